package plugins

import (
	"testing"

	"github.com/kingrea/flowgraph/internal/unit"
)

const sampleDefinition = `name: bwa_mem
executor: bwa
sub_executor: mem
params:
  - name: threads
    type: int
    flag: -t
    default: 4
  - name: ref
    required: true
  - name: reads
    type: list
  - name: out
    flag: ">"
inputs:
  reads:
outputs:
  out: ${TaskName}.sam
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Name != "bwa_mem" || def.SubExecutor != "mem" || len(def.Params) != 4 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if len(def.Outputs) != 1 || def.Outputs[0].Name != "out" {
		t.Fatalf("outputs = %+v", def.Outputs)
	}
	u, err := unit.Load(def)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if port, err := u.UniqueInputPort(); err != nil || port != "reads" {
		t.Fatalf("unique input = %q, %v", port, err)
	}
}

func TestParseDefinitionJSON(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(`{"name": "gz", "executor": "gzip", "params": [{"name": "in"}], "inputs": {"in": null}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Executor != "gzip" || len(def.Inputs) != 1 {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"no executor": "name: x\n",
		"bad type":    "name: x\nexecutor: y\nparams:\n  - name: p\n    type: matrix\n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseDefinitionYAML([]byte(payload)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
