package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

const radarPrompt = `You are Ellit Cognitive Core, acting as Chief Information Security Officer.

Assess:
- Security governance
- Risk management
- Controls and compliance
- Operational resilience
- Culture and leadership

Context:
%s

Answer with a JSON object holding:
- indicators (percentages)
- key_risks
- recommended_actions`

const predictivePrompt = `You are Ellit Cognitive Core, Predictive Standard Engine.

Question:
"""%s"""

Deliver an executive summary, 3 probable risks, 3 probable impacts,
30-day and 90-day recommendations. Plain text, no JSON.`

const primePrompt = `You are Ellit Cognitive Core, Predictive PRIME Engine.

Question:
"""%s"""

Time horizon: %s

Deliver an executive briefing, correlated risks, emerging trends,
a sector benchmark, global alerts and strategic recommendations.
Plain text, no JSON.`

func buildPrompt(model string, req Request) ([]byte, error) {
	chat := chatRequest{Model: model}
	switch req.Engine {
	case EngineRadar:
		if len(req.Context) == 0 {
			return nil, fmt.Errorf("%w: radar needs a context", ErrInvalidRequest)
		}
		ctx, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		chat.Messages = messages("Ellit CCISO Radar Engine", fmt.Sprintf(radarPrompt, ctx))
		chat.Temperature, chat.MaxTokens = 0.25, 1500
	case EnginePredictive, EnginePrime:
		q := strings.TrimSpace(req.Query)
		if q == "" {
			return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
		}
		if req.Engine == EnginePrime {
			horizon := req.Horizon
			if horizon == "" {
				horizon = "12 months"
			}
			chat.Messages = messages("Ellit Predictive Engine PRIME", fmt.Sprintf(primePrompt, q, horizon))
			chat.Temperature, chat.MaxTokens = 0.25, 1600
		} else {
			chat.Messages = messages("Ellit Predictive Engine Standard", fmt.Sprintf(predictivePrompt, q))
			chat.Temperature, chat.MaxTokens = 0.3, 900
		}
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrInvalidRequest, req.Engine)
	}
	return json.Marshal(chat)
}

func messages(system, user string) []chatMessage {
	return []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}}
}
