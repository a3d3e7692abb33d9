package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/chative-router/internal/sandbox"
)

// ===================================
// Identity Tool
// ===================================

const defaultIdentity = `You are an AI chatbot service made by the Okestro AI service team.
You were built by "김선진" at the company "오케스트로" (Okestro) in Korea.
Okestro itself was not founded by "김선진"; if the user asks about the company,
search for it and answer the user's question.`

type WhoAreYouInput struct {
	Question string `json:"question,omitempty"`
}

type WhoAreYouOutput struct {
	Identity string `json:"identity"`
}

func createWhoAreYouTool(identity string) tool.InvokableTool {
	if strings.TrimSpace(identity) == "" {
		identity = defaultIdentity
	}
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolWhoAreYou,
			Desc: "Return what this service is for and who made it. Use it when the user asks who or what you are.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"question": {
					Type: "string",
					Desc: "The user's question about the assistant.",
				},
			}),
		},
		func(ctx context.Context, _ *WhoAreYouInput) (*WhoAreYouOutput, error) {
			return &WhoAreYouOutput{Identity: identity}, nil
		},
	)
}

// ===================================
// Datetime Tool
// ===================================

type NowDatetimeInput struct {
	Timezone string `json:"timezone,omitempty"`
}

type NowDatetimeOutput struct {
	Datetime string `json:"datetime"`
	Weekday  string `json:"weekday"`
	Timezone string `json:"timezone"`
}

func createNowDatetimeTool(now func() time.Time) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolNowDatetime,
			Desc: "Returns the current date and time. Use it for any question about today, now, the current date, time or weekday.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"timezone": {
					Type: "string",
					Desc: "Optional IANA timezone such as Asia/Seoul. Defaults to the server timezone.",
				},
			}),
		},
		func(ctx context.Context, in *NowDatetimeInput) (*NowDatetimeOutput, error) {
			t := now()
			if in.Timezone != "" {
				loc, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
				}
				t = t.In(loc)
			}
			return &NowDatetimeOutput{
				Datetime: t.Format(time.RFC3339),
				Weekday:  t.Weekday().String(),
				Timezone: t.Location().String(),
			}, nil
		},
	)
}

// ===================================
// Remote IP Tool
// ===================================

type clientKey struct{}

// ClientInfo describes the caller of the current turn.
type ClientInfo struct {
	RemoteAddr string
}

func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey{}, info)
}

func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientKey{}).(ClientInfo)
	return info, ok && info.RemoteAddr != ""
}

type GetRemoteIPInput struct{}

type GetRemoteIPOutput struct {
	IP string `json:"ip"`
}

func createGetRemoteIPTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetRemoteIP,
			Desc: "Get the IP address of the user talking to you.",
		},
		func(ctx context.Context, _ *GetRemoteIPInput) (*GetRemoteIPOutput, error) {
			info, ok := ClientInfoFrom(ctx)
			if !ok {
				return nil, errors.New("client address is not available")
			}
			return &GetRemoteIPOutput{IP: info.RemoteAddr}, nil
		},
	)
}

// ===================================
// Python REPL Tool
// ===================================

type PythonREPLInput struct {
	Code string `json:"code"`
}

type PythonREPLOutput struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func createPythonREPLTool(exec sandbox.Executor) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolPythonREPL,
			Desc: "Run a Python 3 snippet and return what it prints. Use it for calculations and data manipulation. Print the values you need to see.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"code": {
					Type:     "string",
					Desc:     "Valid Python 3 source code.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *PythonREPLInput) (*PythonREPLOutput, error) {
			if strings.TrimSpace(in.Code) == "" {
				return nil, errors.New("code is required")
			}
			out, err := exec.Execute(ctx, in.Code)
			if err != nil {
				return nil, err
			}
			return &PythonREPLOutput{Output: out.Text(), ExitCode: out.ExitCode}, nil
		},
	)
}
