// ABOUTME: Tests for the assistant gRPC client over an in-process bufconn server
// ABOUTME: Registers a hand-written service descriptor that speaks structpb

package ai

import (
	"context"
	"encoding/base64"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type assistantFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func startAssistant(t *testing.T, fn assistantFunc) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "bitsacco.assistant.v1.Assistant",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "ProcessMessage",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				return fn(ctx, in)
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	c := NewClientFromConn(conn, "")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestProcessMessage(t *testing.T) {
	var got *structpb.Struct
	c := startAssistant(t, func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		got = in
		return structpb.NewStruct(map[string]any{
			"success": true,
			"text":    "You have 1,500 KES saved.",
			"actions": []any{
				map[string]any{"type": "balance"},
				map[string]any{"type": "load", "amount": 500.0, "params": map[string]any{"method": "mpesa"}},
				map[string]any{"amount": 1.0},
			},
			"audio_base64": base64.StdEncoding.EncodeToString([]byte("mp3")),
		})
	})

	reply, err := c.ProcessMessage(context.Background(), Request{
		UserID:  "telegram:1",
		Phone:   "+254712345678",
		Text:    "how much do I have?",
		History: []string{"User: hi", "Assistant: hello"},
	})
	require.NoError(t, err)

	f := got.GetFields()
	assert.Equal(t, "telegram:1", f["user_id"].GetStringValue())
	assert.Equal(t, "+254712345678", f["phone_number"].GetStringValue())
	assert.Len(t, f["history"].GetListValue().GetValues(), 2)

	assert.True(t, reply.Success)
	assert.Equal(t, "You have 1,500 KES saved.", reply.Text)
	require.Len(t, reply.Actions, 2)
	assert.Equal(t, "balance", reply.Actions[0].Type)
	assert.Equal(t, 500.0, reply.Actions[1].Amount)
	assert.Equal(t, "mpesa", reply.Actions[1].Params["method"])
	assert.Equal(t, []byte("mp3"), reply.Audio)
	assert.Equal(t, "audio/mpeg", reply.AudioMIME)
}

func TestProcessMessage_Declined(t *testing.T) {
	c := startAssistant(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"success": false})
	})

	reply, err := c.ProcessMessage(context.Background(), Request{Text: "?"})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Empty(t, reply.Text)
}

func TestProcessMessage_ServerError(t *testing.T) {
	c := startAssistant(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model overloaded")
	})

	_, err := c.ProcessMessage(context.Background(), Request{Text: "?"})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestDecodeReply_LegacyResponseField(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"success": true, "response": "hello"})
	require.NoError(t, err)

	r, err := DecodeReply(s)
	require.NoError(t, err)
	assert.Equal(t, "hello", r.Text)
}

func TestDecodeReply_BadAudio(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"success": true, "audio_base64": "!!!"})
	require.NoError(t, err)

	_, err = DecodeReply(s)
	assert.Error(t, err)
}
