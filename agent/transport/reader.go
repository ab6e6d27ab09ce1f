package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/voice-persona-agents/agent/agents/orchestrator"
)

// readTurns forwards transcript frames to turns and closes it when the client
// ends the call or the socket goes away.
func readTurns(ctx context.Context, conn *websocket.Conn, turns chan<- orchestrator.RecognizedTurn, logger zerolog.Logger) {
	defer close(turns)
	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				logger.Debug().Msg("client closed the socket")
			} else {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		switch frame.Type {
		case frameTranscript:
			select {
			case turns <- orchestrator.RecognizedTurn{Text: frame.Text, IsFinal: frame.IsFinal}:
			case <-ctx.Done():
				return
			}
		case frameEnd:
			logger.Debug().Msg("client ended the call")
			return
		default:
			logger.Debug().Str("type", frame.Type).Msg("ignoring unknown frame")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}
