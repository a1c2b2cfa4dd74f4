package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const universeYAML = `
version: 1
arities:
  List: 1
  Seq: 1
types:
  - tag: "λ A → List[+A]"
    parents: ["λ A → Seq[+A]"]
  - tag: Cat
    parents: [Animal]
names:
  Int: [Object]
tags:
  ints: "List[+Int]"
  objects: "Seq[+Object]"
`

func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var out, errb bytes.Buffer
	code := New(args, &out, &errb).Execute()
	return out.String(), errb.String(), code
}

func writeUniverse(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universe.yaml")
	if err := os.WriteFile(path, []byte(universeYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommands(t *testing.T) {
	universe := writeUniverse(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"render", []string{"render", "λ A → Map[String, +A]"}, "λ A → Map[String, +A]\n"},
		{"render normal", []string{"render", "--normal", "λ A → Map[String, +A]"}, "λ %0 → Map[String, +%0]\n"},
		{"render several", []string{"render", "Int", "B & A"}, "Int\nB & A\n"},
		{"eq alpha", []string{"eq", "λ A → List[+A]", "λ B → List[+B]"}, "true\n"},
		{"eq intersection order", []string{"eq", "A & B", "B & A"}, "true\n"},
		{"eq different", []string{"eq", "List[+Int]", "List[+String]"}, "false\n"},
		{"sub without universe", []string{"sub", "List[+Int]", "Seq[+Object]"}, "false\n"},
		{"sub universe", []string{"sub", "--universe", universe, "List[+Int]", "Seq[+Object]"}, "true\n"},
		{"sub universe names", []string{"sub", "-u", universe, "ints", "objects"}, "true\n"},
		{"sub reversed", []string{"sub", "-u", universe, "objects", "ints"}, "false\n"},
		{"sub bottom", []string{"sub", "Nothing", "Cat"}, "true\n"},
		{"combine", []string{"combine", "λ A → List[+A]", "Int"}, "List[+Int]\n"},
		{"combine hole", []string{"combine", "--normal", "λ K, V → Map[K, +V]", "_", "Int"}, "λ %0 → Map[%0, +Int]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, code := run(t, tt.args...)
			if code != 0 {
				t.Fatalf("exit %d, stderr: %s", code, errOut)
			}
			if out != tt.want {
				t.Errorf("stdout = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	universe := writeUniverse(t)
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"unknown command", []string{"frobnicate"}, 2, "Unknown command"},
		{"unknown flag", []string{"render", "--bogus", "Int"}, 2, "unknown flag"},
		{"missing flag value", []string{"render", "--db"}, 2, "requires a value"},
		{"parse error", []string{"render", "List[+Int"}, 1, "Error:"},
		{"arity", []string{"render", "-u", universe, "List[Int, Int]"}, 1, "Error:"},
		{"eq arity", []string{"eq", "Int"}, 1, "two tags"},
		{"over-application", []string{"combine", "λ A → List[+A]", "Int", "Int"}, 1, "Error:"},
		{"missing universe", []string{"sub", "-u", "/nonexistent/u.yaml", "A", "B"}, 1, "reading universe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, code := run(t, tt.args...)
			if code != tt.code {
				t.Errorf("exit = %d, want %d", code, tt.code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", errOut, tt.want)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	universe := writeUniverse(t)
	dir := t.TempDir()

	bin := filepath.Join(dir, "ints.bin")
	if _, errOut, code := run(t, "encode", "-u", universe, "ints", "-o", bin); code != 0 {
		t.Fatalf("encode: exit %d: %s", code, errOut)
	}
	out, errOut, code := run(t, "decode", bin)
	if code != 0 {
		t.Fatalf("decode: exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "List[+Int]\nregistry ") {
		t.Errorf("decode output = %q", out)
	}

	yml := filepath.Join(dir, "ints.yaml")
	if _, errOut, code := run(t, "encode", "--yaml", "λ A → List[+A]", "-o", yml); code != 0 {
		t.Fatalf("encode --yaml: exit %d: %s", code, errOut)
	}
	out, errOut, code = run(t, "decode", "--normal", yml)
	if code != 0 {
		t.Fatalf("decode yaml: exit %d: %s", code, errOut)
	}
	if out != "λ %0 → List[+%0]\n" {
		t.Errorf("decode yaml output = %q", out)
	}
}

func TestSaveLoad(t *testing.T) {
	universe := writeUniverse(t)
	db := filepath.Join(t.TempDir(), "tags.db")

	if _, errOut, code := run(t, "save", "--db", db, "-u", universe, "mine", "List[+Int]"); code != 0 {
		t.Fatalf("save: exit %d: %s", code, errOut)
	}
	out, errOut, code := run(t, "load", "--db", db, "mine")
	if code != 0 {
		t.Fatalf("load: exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "List[+Int]\nregistry ") {
		t.Errorf("load output = %q", out)
	}

	out, _, _ = run(t, "load", "--db", db)
	if out != "mine\n" {
		t.Errorf("load listing = %q", out)
	}
	if _, errOut, code := run(t, "load", "--db", db, "missing"); code != 1 || !strings.Contains(errOut, "not found") {
		t.Errorf("load missing: exit %d, stderr %q", code, errOut)
	}
}

func TestInspectUniverse(t *testing.T) {
	universe := writeUniverse(t)
	out, errOut, code := run(t, "inspect", universe)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{
		"ints = List[+Int]\n",
		"λ %0 → List[+%0] <: λ %0 → Seq[+%0]\n",
		"Cat <: Animal\n",
		"Int <: Object\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "typetag.yaml")
	if err := os.WriteFile(cfg, []byte("bottom: Never\ntop: Object\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, errOut, code := run(t, "sub", "--config", cfg, "Never", "Int")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "true\n" {
		t.Errorf("stdout = %q", out)
	}
	out, _, _ = run(t, "sub", "--config", cfg, "Nothing", "Int")
	if out != "false\n" {
		t.Errorf("Nothing is not the bottom marker under this config, got %q", out)
	}
}

func TestTrace(t *testing.T) {
	_, errOut, code := run(t, "sub", "--trace", "A", "B")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(errOut, "typetag: ") || !strings.Contains(errOut, "A <: B") {
		t.Errorf("trace output = %q", errOut)
	}
}

func TestTraceIsPerInvocation(t *testing.T) {
	const n = 8
	clis := make([]*CLI, n)
	var wg sync.WaitGroup
	for i := range clis {
		args := []string{"eq", "Int", "Int"}
		if i%2 == 0 {
			args = append(args, "--trace")
		}
		clis[i] = New(args, &bytes.Buffer{}, &bytes.Buffer{})
		wg.Add(1)
		go func(c *CLI) {
			defer wg.Done()
			c.Execute()
		}(clis[i])
	}
	wg.Wait()

	for i, c := range clis {
		if want := i%2 == 0; c.trace != want {
			t.Errorf("invocation %d: trace = %v, want %v", i, c.trace, want)
		}
		if out := c.Stdout.(*bytes.Buffer).String(); out != "true\n" {
			t.Errorf("invocation %d: output = %q", i, out)
		}
	}
}
