// Smoke test client for deployment validation: exercises connection
// establishment, message counting, parse-error handling and session
// recovery against a running server.
package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const readTimeout = 5 * time.Second

func main() {
	target := flag.String("url", "ws://localhost:8000/ws/chat", "WebSocket endpoint to test")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	results := map[string]bool{
		"basic_connection": testBasicConnection(*target),
		"message_counting": testMessageCounting(*target),
		"invalid_json":     testInvalidJSON(*target),
		"session_recovery": testSessionRecovery(*target),
	}

	failed := 0
	for name, ok := range results {
		if ok {
			log.Info().Str("test", name).Msg("PASS")
		} else {
			log.Error().Str("test", name).Msg("FAIL")
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func dial(target string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	return conn, err
}

func readFrame(conn *websocket.Conn) (map[string]interface{}, error) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func testBasicConnection(target string) bool {
	conn, err := dial(target)
	if err != nil {
		log.Error().Err(err).Msg("Connection failed")
		return false
	}
	conn.Close()
	return true
}

func testMessageCounting(target string) bool {
	conn, err := dial(target)
	if err != nil {
		log.Error().Err(err).Msg("Connection failed")
		return false
	}
	defer conn.Close()

	for i := 1; i <= 3; i++ {
		if err := conn.WriteJSON(map[string]string{"message": fmt.Sprintf("Test message %d", i)}); err != nil {
			log.Error().Err(err).Msg("Write failed")
			return false
		}
		frame, err := readFrame(conn)
		if err != nil {
			log.Error().Err(err).Msg("Read failed")
			return false
		}
		if count, ok := frame["count"].(float64); !ok || int(count) != i {
			log.Error().Int("expected", i).Interface("got", frame["count"]).Msg("Unexpected count")
			return false
		}
	}
	return true
}

func testInvalidJSON(target string) bool {
	conn, err := dial(target)
	if err != nil {
		log.Error().Err(err).Msg("Connection failed")
		return false
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		log.Error().Err(err).Msg("Write failed")
		return false
	}
	frame, err := readFrame(conn)
	if err != nil {
		log.Error().Err(err).Msg("Read failed")
		return false
	}
	return frame["error"] == "Invalid JSON"
}

func testSessionRecovery(target string) bool {
	sessionID := uuid.New().String()
	withSession, err := url.Parse(target)
	if err != nil {
		log.Error().Err(err).Msg("Bad target URL")
		return false
	}
	q := withSession.Query()
	q.Set("session_uuid", sessionID)
	withSession.RawQuery = q.Encode()

	conn, err := dial(withSession.String())
	if err != nil {
		log.Error().Err(err).Msg("Connection failed")
		return false
	}
	if err := conn.WriteJSON(map[string]string{"message": "first"}); err != nil {
		log.Error().Err(err).Msg("Write failed")
		return false
	}
	if _, err := readFrame(conn); err != nil {
		log.Error().Err(err).Msg("Read failed")
		return false
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()

	// Give the server a moment to persist the session record.
	time.Sleep(200 * time.Millisecond)

	conn, err = dial(withSession.String())
	if err != nil {
		log.Error().Err(err).Msg("Reconnection failed")
		return false
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"message": "second"}); err != nil {
		log.Error().Err(err).Msg("Write failed")
		return false
	}
	frame, err := readFrame(conn)
	if err != nil {
		log.Error().Err(err).Msg("Read failed")
		return false
	}
	count, ok := frame["count"].(float64)
	if !ok || int(count) != 2 {
		log.Error().Interface("got", frame["count"]).Msg("Session was not recovered")
		return false
	}
	return true
}
