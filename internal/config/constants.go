package config

// Marker names for the bottom and top types. A NameReference carrying one of
// these names is absorbed by the subtype engine before any registry lookup.
const (
	NothingTypeName = "Nothing"
	AnyTypeName     = "Any"
)

// LambdaParamPrefix marks names reserved for lambda parameters. A reference
// whose name starts with it must be bound by an enclosing lambda.
const LambdaParamPrefix = "%"

// EncodingVersion is written in front of every encoded tag and registry.
const EncodingVersion = 1

// DefaultMaxVisited bounds the visited-pairs guard of a single subtype query.
const DefaultMaxVisited = 4096

// DefaultConfigFile is looked up in the working directory by the CLI.
const DefaultConfigFile = "typetag.yaml"

// DefaultStoreFile is the SQLite database used when neither --db nor the
// config file name one.
const DefaultStoreFile = "typetag.db"

const Version = "0.3.0"
