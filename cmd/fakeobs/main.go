// fakeobs is a development stand-in for OBS: it speaks enough of the
// obs-websocket v5 protocol to accept the overlay's requests and logs each one
// instead of rendering anything.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication"`
}

type requestData struct {
	RequestType string          `json:"requestType"`
	RequestID   string          `json:"requestId"`
	RequestData json.RawMessage `json:"requestData"`
}

type itemIDs struct {
	mu   sync.Mutex
	next int
	ids  map[string]int
}

func (s *itemIDs) lookup(scene, source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scene + "\x00" + source
	if id, ok := s.ids[key]; ok {
		return id
	}
	s.next++
	s.ids[key] = s.next
	return s.next
}

func main() {
	var (
		addr     string
		password string
	)
	flag.StringVar(&addr, "addr", ":4455", "Listen address")
	flag.StringVar(&password, "password", "", "Require obs-websocket authentication with this password")
	flag.Parse()

	items := &itemIDs{ids: make(map[string]int)}

	handler := func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Printf("fakeobs: accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		if err := serve(r.Context(), conn, password, items); err != nil {
			log.Printf("fakeobs: session ended: %v", err)
		}
	}

	log.Printf("fakeobs listening on %s (auth=%t)", addr, password != "")
	if err := http.ListenAndServe(addr, http.HandlerFunc(handler)); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, conn *websocket.Conn, password string, items *itemIDs) error {
	hello := map[string]any{
		"obsWebSocketVersion": "5.1.0",
		"rpcVersion":          1,
	}
	var challenge, salt string
	if password != "" {
		challenge, salt = nonce(), nonce()
		hello["authentication"] = map[string]string{
			"challenge": challenge,
			"salt":      salt,
		}
	}
	if err := send(ctx, conn, 0, hello); err != nil {
		return err
	}

	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return err
	}
	if env.Op != 1 {
		conn.Close(websocket.StatusProtocolError, "expected Identify")
		return nil
	}
	if password != "" {
		var ident identifyData
		if err := json.Unmarshal(env.D, &ident); err != nil {
			return err
		}
		if ident.Authentication != authResponse(password, salt, challenge) {
			conn.Close(4009, "authentication failed")
			return nil
		}
	}
	if err := send(ctx, conn, 2, map[string]any{"negotiatedRpcVersion": 1}); err != nil {
		return err
	}
	log.Printf("fakeobs: client identified")

	for {
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		if env.Op != 6 {
			continue
		}
		var req requestData
		if err := json.Unmarshal(env.D, &req); err != nil {
			continue
		}
		log.Printf("fakeobs: %s %s", req.RequestType, compact(req.RequestData))

		response := map[string]any{
			"requestType":   req.RequestType,
			"requestId":     req.RequestID,
			"requestStatus": map[string]any{"result": true, "code": 100},
		}
		if req.RequestType == "GetSceneItemId" {
			var params struct {
				SceneName  string `json:"sceneName"`
				SourceName string `json:"sourceName"`
			}
			_ = json.Unmarshal(req.RequestData, &params)
			response["responseData"] = map[string]any{
				"sceneItemId": items.lookup(params.SceneName, params.SourceName),
			}
		}
		if err := send(ctx, conn, 7, response); err != nil {
			return err
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, envelope{Op: op, D: raw})
}

func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	proof := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(proof[:])
}

func nonce() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
