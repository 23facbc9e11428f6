package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/parser"
)

func TestParserByNameDefaultsToPassThrough(t *testing.T) {
	t.Parallel()
	assert.Equal(t, parser.PassThrough{}, parserByName(""))
	assert.Equal(t, parser.PassThrough{}, parserByName("pass_through"))
}

func TestParsedResponseDataPassesThroughAlreadyParsedShape(t *testing.T) {
	t.Parallel()
	res := node.Result{Success: true, Data: map[string]any{
		"raw": "hi", "sections": []map[string]any{{"kind": "text", "content": "hi"}},
	}}

	out := parsedResponseData(res, parser.PassThrough{})

	assert.Equal(t, res.Data, out)
}

func TestParsedResponseDataParsesPrimaryTextField(t *testing.T) {
	t.Parallel()
	res := node.Result{Success: true, Data: map[string]any{"output": "hello world"}}

	out := parsedResponseData(res, parser.PassThrough{})

	assert.Equal(t, "hello world", out["raw"])
	assert.Equal(t, true, out["is_ready"])
	assert.Equal(t, true, out["is_complete"])
	assert.Equal(t, "pass_through", out["parser"])
}

func TestParsedResponseDataWithNoRecognizedFieldIsEmptyRaw(t *testing.T) {
	t.Parallel()
	res := node.Result{Success: true, Data: map[string]any{"unrelated": 1}}

	out := parsedResponseData(res, parser.PassThrough{})

	assert.Equal(t, "", out["raw"])
}

func TestBuildExecuteResponseSurfacesErrorOnlyOnFailure(t *testing.T) {
	t.Parallel()

	ok := buildExecuteResponse(node.Result{Success: true, Data: map[string]any{"output": "done"}}, parser.PassThrough{})
	assert.Equal(t, true, ok["success"])
	assert.Nil(t, ok["error"])

	failed := buildExecuteResponse(node.Result{Success: false, Error: "boom", ErrorType: "process"}, parser.PassThrough{})
	assert.Equal(t, false, failed["success"])
	assert.Equal(t, "boom", failed["error"])
	assert.Equal(t, "process", failed["error_type"])
}

func TestBuildExecuteResponseDoesNotLetNodeDataOverrideReservedKeys(t *testing.T) {
	t.Parallel()

	res := node.Result{Success: true, Data: map[string]any{"output": "x", "response": "smuggled"}}
	out := buildExecuteResponse(res, parser.PassThrough{})

	assert.NotEqual(t, "smuggled", out["response"])
}
