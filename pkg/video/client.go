// Package video receives the robot camera as a WebRTC H264 stream and turns
// it into frames.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// DefaultProducer is the producer name the robot's GStreamer webrtcsink advertises.
const DefaultProducer = "reachymini"

// Config holds the stream settings.
type Config struct {
	SignalingURL string            // ws://robot:8443
	Producer     string            // empty = DefaultProducer
	FPS          int               // decoded frame rate cap
	Decode       vision.DecodeFunc // JPEG decoder, nil = vision.Decode
}

// Client connects to a WebRTC video stream via GStreamer signalling
type Client struct {
	cfg    Config
	logger *slog.Logger

	ws      *websocket.Conn
	pc      *webrtc.PeerConnection
	wsMutex sync.Mutex

	myPeerID   string
	producerID string
	sessionID  atomic.Value // string

	dec        *Decoder
	trackReady chan struct{}
	packets    atomic.Uint64
	closed     atomic.Bool
}

// NewClient creates a new WebRTC video client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Producer == "" {
		cfg.Producer = DefaultProducer
	}
	c := &Client{
		cfg:        cfg,
		logger:     logger,
		trackReady: make(chan struct{}, 1),
	}
	c.sessionID.Store("")
	return c
}

// Connect starts the decoder and establishes the WebRTC connection, returning
// once the video track arrives.
func (c *Client) Connect(ctx context.Context) error {
	dec, err := StartDecoder(ctx, c.cfg.FPS, c.cfg.Decode, c.logger)
	if err != nil {
		return err
	}
	c.dec = dec

	c.logger.Info("connecting to signalling server", "url", c.cfg.SignalingURL)
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	c.ws, _, err = dialer.DialContext(ctx, c.cfg.SignalingURL, nil)
	if err != nil {
		c.Close()
		return fmt.Errorf("signalling connect failed: %w", err)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"welcome", c.waitForWelcome},
		{"find producer", c.findProducer},
		{"peer connection", c.createPeerConnection},
		{"start session", c.startSession},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			c.Close()
			return fmt.Errorf("%s failed: %w", s.name, err)
		}
	}

	// Start signalling handler
	go c.handleSignalling()

	select {
	case <-c.trackReady:
		c.logger.Info("video connected", "producer", c.producerID)
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	case <-time.After(15 * time.Second):
		c.Close()
		return errors.New("timeout waiting for video")
	}
}

// Run delivers decoded frames to sink until ctx is done or the decoder exits.
func (c *Client) Run(ctx context.Context, sink func(*vision.Frame)) error {
	if c.dec == nil {
		return errors.New("video client not connected")
	}
	done := make(chan error, 1)
	go func() { done <- c.dec.Run(sink) }()

	select {
	case <-ctx.Done():
		c.dec.Close()
		<-done
		return nil
	case err := <-done:
		if c.closed.Load() {
			return nil
		}
		if err == nil {
			err = errors.New("decoder exited")
		}
		return err
	}
}

func (c *Client) waitForWelcome() error {
	c.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	c.myPeerID = welcome.PeerID
	c.logger.Debug("signalling welcome", "peer_id", c.myPeerID)
	return nil
}

func (c *Client) findProducer() error {
	if err := c.writeJSON(map[string]string{"type": "list"}); err != nil {
		return err
	}

	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	id, err := pickProducer(msg, c.cfg.Producer)
	if err != nil {
		return err
	}
	c.producerID = id
	return nil
}

// pickProducer finds the producer named name in a signalling list reply.
func pickProducer(msg []byte, name string) (string, error) {
	var listResp struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := json.Unmarshal(msg, &listResp); err != nil {
		return "", err
	}
	for _, p := range listResp.Producers {
		if p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%s producer not found in %d producers", name, len(listResp.Producers))
}

func (c *Client) createPeerConnection() error {
	var err error
	c.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	// We want to receive video
	if _, err = c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			c.sendICECandidate(candidate)
		}
	})
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Info("webrtc connection state", "state", state.String())
	})
	return nil
}

func (c *Client) startSession() error {
	return c.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": c.producerID,
	})
}

func (c *Client) handleSignalling() {
	for !c.closed.Load() {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("signalling error", "error", err)
			}
			return
		}

		var baseMsg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case "sessionStarted":
			c.sessionID.Store(baseMsg.SessionID)
		case "peer":
			c.handlePeerMessage(msg)
		case "endSession":
			c.logger.Info("signalling session ended")
			return
		}
	}
}

type peerMessage struct {
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp"`
	ICE *webrtc.ICECandidateInit `json:"ice"`
}

func (c *Client) handlePeerMessage(msg []byte) {
	var pm peerMessage
	if err := json.Unmarshal(msg, &pm); err != nil {
		c.logger.Debug("bad peer message", "error", err)
		return
	}

	if pm.SDP != nil && pm.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: pm.SDP.SDP}
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Error("SetRemoteDescription failed", "error", err)
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Error("CreateAnswer failed", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Error("SetLocalDescription failed", "error", err)
			return
		}
		c.sendSDP(answer)
	}

	if pm.ICE != nil {
		if err := c.pc.AddICECandidate(*pm.ICE); err != nil {
			c.logger.Debug("AddICECandidate failed", "error", err)
		}
	}
}

func (c *Client) sendSDP(sdp webrtc.SessionDescription) {
	c.writeJSON(map[string]any{
		"type":      "peer",
		"sessionId": c.sessionID.Load(),
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (c *Client) sendICECandidate(candidate *webrtc.ICECandidate) {
	sid, _ := c.sessionID.Load().(string)
	if sid == "" {
		return
	}
	c.writeJSON(map[string]any{
		"type":      "peer",
		"sessionId": sid,
		"ice":       candidate.ToJSON(),
	})
}

func (c *Client) writeJSON(v any) error {
	c.wsMutex.Lock()
	defer c.wsMutex.Unlock()
	return c.ws.WriteJSON(v)
}

// handleVideoTrack depacketizes H264 RTP into Annex-B NAL units for ffmpeg.
func (c *Client) handleVideoTrack(track *webrtc.TrackRemote) {
	// Signal that we got video
	select {
	case c.trackReady <- struct{}{}:
	default:
	}

	var depack codecs.H264Packet
	for !c.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		c.packets.Add(1)

		nal, err := depack.Unmarshal(pkt.Payload)
		if err != nil || len(nal) == 0 {
			continue // fragment in progress or malformed
		}
		if err := c.dec.Write(nal); err != nil {
			c.logger.Warn("decoder write failed", "error", err)
			return
		}
	}
}

// Packets returns the number of RTP packets received.
func (c *Client) Packets() uint64 {
	return c.packets.Load()
}

// Close closes the WebRTC connection and the decoder.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	if c.pc != nil {
		c.pc.Close()
	}
	if c.ws != nil {
		c.ws.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
