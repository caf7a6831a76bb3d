package unit

import (
	"errors"
	"fmt"
	"testing"

	"gopkg.in/yaml.v3"
)

const bwaYAML = `
name: bwa_mem
executor: bwa
sub_executor: mem
params:
  - name: threads
    type: integer
    flag: -t
    default: 4
  - name: ref
    required: true
  - name: fq
    type: list
  - name: out
    flag: ">"
inputs:
  ref: null
  fq: null
outputs:
  out: ${TaskName}.sam
`

func decode(t *testing.T, payload string) Definition {
	t.Helper()
	var def Definition
	if err := yaml.Unmarshal([]byte(payload), &def); err != nil {
		t.Fatalf("decode definition: %v", err)
	}
	return def
}

func TestLoadKeepsPortOrderAndSynthesizesStreams(t *testing.T) {
	u, err := Load(decode(t, bwaYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := fmt.Sprint(u.InputPorts()); got != "[ref fq]" {
		t.Fatalf("input ports = %s", got)
	}
	if got := fmt.Sprint(u.OutputPorts()); got != "[out STDOUT STDERR]" {
		t.Fatalf("output ports = %s", got)
	}
	tpl, ok := u.OutputTemplate(PortStdout)
	if !ok || tpl != "${StdxxxDir}/${TaskName}.stdout" {
		t.Fatalf("stdout template = %q (%v)", tpl, ok)
	}
	threads, ok := u.Param("threads")
	if !ok || threads.Type != TypeInt || threads.Flag != "-t" || !threads.HasDefault {
		t.Fatalf("threads param = %+v", threads)
	}
	ref, _ := u.Param("ref")
	if !ref.Positional() || !ref.Required {
		t.Fatalf("ref param = %+v", ref)
	}
}

func TestUniquePorts(t *testing.T) {
	u, err := Load(decode(t, bwaYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := u.UniqueInputPort(); !errors.Is(err, ErrAmbiguousPort) {
		t.Fatalf("unique input err = %v, want ErrAmbiguousPort", err)
	}
	port, err := u.UniqueOutputPort()
	if err != nil || port != "out" {
		t.Fatalf("unique output = %q, %v", port, err)
	}

	bare, err := Load(Definition{Name: "touch", Executor: "touch"})
	if err != nil {
		t.Fatalf("load bare: %v", err)
	}
	if _, err := bare.UniqueInputPort(); !errors.Is(err, ErrNoPort) {
		t.Fatalf("bare unique input err = %v, want ErrNoPort", err)
	}
	if port, _ := bare.UniqueOutputPort(); port != PortStdout {
		t.Fatalf("bare unique output = %q, want STDOUT", port)
	}
}

func TestLoadFallsBackToLongFlag(t *testing.T) {
	u, err := Load(Definition{
		Name:     "gzip",
		Executor: "gzip",
		Params:   []ParamDefinition{{Name: "keep", Type: "boolean", LongFlag: "--keep"}},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	keep, _ := u.Param("keep")
	if keep.Flag != "--keep" {
		t.Fatalf("flag = %q, want --keep", keep.Flag)
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]Definition{
		"missing name":     {Executor: "x"},
		"missing executor": {Name: "x"},
		"duplicate param": {Name: "x", Executor: "x", Params: []ParamDefinition{
			{Name: "a"}, {Name: "a"},
		}},
		"unknown type":        {Name: "x", Executor: "x", Params: []ParamDefinition{{Name: "a", Type: "matrix"}}},
		"choices without set": {Name: "x", Executor: "x", Params: []ParamDefinition{{Name: "a", Type: "choice"}}},
		"bool without flag":   {Name: "x", Executor: "x", Params: []ParamDefinition{{Name: "a", Type: "bool"}}},
		"duplicate output":    {Name: "x", Executor: "x", Outputs: Ports{{Name: "o"}, {Name: "o"}}},
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(def); !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("err = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestPortsAcceptSequenceForm(t *testing.T) {
	def := decode(t, `
name: cat
executor: cat
outputs:
  - name: merged
    value: merged.txt
`)
	u, err := Load(def)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tpl, _ := u.OutputTemplate("merged"); tpl != "merged.txt" {
		t.Fatalf("template = %q", tpl)
	}
}
