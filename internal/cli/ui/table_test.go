package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "METHOD", "MARKER")
	table.AddRow("com.acme.A.run()V", `@LogCall("runs")`)
	table.AddRow("b()V")
	table.AddRow("c()V", "@Lifecycle", "dropped")
	assert.Equal(t, 3, table.Len())
	table.Render()

	assert.Equal(t, ""+
		"METHOD             MARKER\n"+
		"─────────────────  ────────────────\n"+
		"com.acme.A.run()V  @LogCall(\"runs\")\n"+
		"b()V               \n"+
		"c()V               @Lifecycle\n", buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("Entries", "6")
	kv.AddRow("Rewritten classes", "2")
	kv.Render()
	assert.Equal(t, ""+
		"Entries:           6\n"+
		"Rewritten classes: 2\n", buf.String())
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "Markers", true)
	assert.Equal(t, "Markers\n───────\n", buf.String())
}
