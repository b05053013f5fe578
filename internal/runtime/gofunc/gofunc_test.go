package gofunc

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
)

func goCap(function string, argc int) pipeline.CallCapability {
	args := make([]pipeline.ArgSpec, argc)
	for i := range args {
		args[i] = pipeline.ArgSpec{Type: pipeline.TypeAny}
	}
	return pipeline.CallCapability{Runtime: RuntimeID, Function: function, Args: args, Returns: 1}
}

func TestRegisterAndInvoke(t *testing.T) {
	adapter := New()
	adapter.Register("echo", func(_ context.Context, args []interface{}) ([]interface{}, error) {
		return args, nil
	})

	out, err := adapter.Invoke(context.Background(), goCap("echo", 1), []interface{}{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"hello"}, out)
}

func TestInvokeUnknownFunction(t *testing.T) {
	adapter := New()

	_, err := adapter.Invoke(context.Background(), goCap("missing", 0), nil)
	require.Error(t, err)
	assert.True(t, errors.IsAdapter(err))
	assert.True(t, errors.IsNotFound(err))
}

func TestBuiltins(t *testing.T) {
	adapter := Builtins()
	ctx := context.Background()

	tests := []struct {
		function string
		args     []interface{}
		want     interface{}
		wantErr  bool
	}{
		{function: "add", args: []interface{}{1, 2, 3.5}, want: 6.5},
		{function: "multiply", args: []interface{}{4, 2.5}, want: 10.0},
		{function: "concat", args: []interface{}{"a", 1, "b"}, want: "a1b"},
		{function: "upper", args: []interface{}{"maestro"}, want: "MAESTRO"},
		{function: "length", args: []interface{}{"four"}, want: 4},
		{function: "length", args: []interface{}{[]interface{}{1, 2}}, want: 2},
		{function: "add", args: []interface{}{"nan"}, wantErr: true},
		{function: "upper", args: []interface{}{42}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s(%v)", tt.function, tt.args), func(t *testing.T) {
			out, err := adapter.Invoke(ctx, goCap(tt.function, len(tt.args)), tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0])
		})
	}
}
