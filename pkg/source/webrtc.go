package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-obstacle/internal/log"
	"github.com/teslashibe/go-obstacle/pkg/debug"
)

// DefaultSignallingPort is the GStreamer webrtcsink signalling port.
const DefaultSignallingPort = "8443"

// maxGroupBytes caps the buffered group of pictures between keyframes.
const maxGroupBytes = 8 << 20

// WebRTCOptions tunes a WebRTC source.
type WebRTCOptions struct {
	// HandshakeTimeout bounds the signalling dial and each setup reply.
	HandshakeTimeout time.Duration

	// TrackTimeout bounds the wait for the first video track.
	TrackTimeout time.Duration

	// ReadTimeout bounds how long Read waits for a decoded frame.
	ReadTimeout time.Duration

	// DecodeInterval throttles ffmpeg invocations.
	DecodeInterval time.Duration

	// Decoder converts H264 to JPEG. Defaults to NewH264Decoder().
	Decoder *H264Decoder
}

// DefaultWebRTCOptions returns options suited to a LAN camera.
func DefaultWebRTCOptions() WebRTCOptions {
	return WebRTCOptions{
		HandshakeTimeout: 10 * time.Second,
		TrackTimeout:     15 * time.Second,
		ReadTimeout:      5 * time.Second,
		DecodeInterval:   100 * time.Millisecond,
		Decoder:          NewH264Decoder(),
	}
}

// WebRTC receives H264 video from a GStreamer webrtcsink producer.
type WebRTC struct {
	name          string
	signallingURL string
	producerName  string
	opts          WebRTCOptions
	log           *slog.Logger

	ws      *websocket.Conn
	wsMutex sync.Mutex
	pc      *webrtc.PeerConnection

	peerID     string
	producerID string
	sessionID  atomic.Value // string

	frames     chan []byte
	trackReady chan struct{}
	trackOnce  sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ParseWebRTCURL splits webrtc://host[:port][?producer=name] into the
// signalling websocket URL and the producer name filter.
func ParseWebRTCURL(rawURL string) (signalling, producer string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if u.Scheme != "webrtc" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("%w: missing host in %s", ErrOpenFailed, rawURL)
	}

	port := u.Port()
	if port == "" {
		port = DefaultSignallingPort
	}
	signalling = (&url.URL{Scheme: "ws", Host: net.JoinHostPort(u.Hostname(), port)}).String()
	return signalling, u.Query().Get("producer"), nil
}

// DialWebRTC negotiates a receive-only session and waits for the video track.
func DialWebRTC(ctx context.Context, rawURL string, opts WebRTCOptions) (*WebRTC, error) {
	signalling, producer, err := ParseWebRTCURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Decoder == nil {
		opts.Decoder = NewH264Decoder()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w := &WebRTC{
		name:          rawURL,
		signallingURL: signalling,
		producerName:  producer,
		opts:          opts,
		log:           log.With("component", "webrtc", "signalling", signalling),
		frames:        make(chan []byte, 1),
		trackReady:    make(chan struct{}),
		ctx:           runCtx,
		cancel:        cancel,
	}
	w.sessionID.Store("")

	if err := w.connect(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, rawURL, err)
	}
	return w, nil
}

func (w *WebRTC) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.opts.HandshakeTimeout}

	ws, _, err := dialer.DialContext(ctx, w.signallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect failed: %w", err)
	}
	w.ws = ws

	if err := w.waitForWelcome(); err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	w.log.Debug("signalling welcome", "peer_id", w.peerID)

	if err := w.announce(); err != nil {
		return fmt.Errorf("set peer status failed: %w", err)
	}

	if err := w.findProducer(); err != nil {
		return err
	}
	w.log.Info("producer found", "producer_id", w.producerID)

	if err := w.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}

	if err := w.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": w.producerID,
	}); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	go w.handleSignalling()

	select {
	case <-w.trackReady:
		w.log.Info("video track connected")
		return nil
	case <-time.After(w.opts.TrackTimeout):
		return fmt.Errorf("timeout waiting for video track")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readSetup reads one signalling message within the handshake timeout.
func (w *WebRTC) readSetup() ([]byte, error) {
	w.ws.SetReadDeadline(time.Now().Add(w.opts.HandshakeTimeout))
	defer w.ws.SetReadDeadline(time.Time{})

	_, msg, err := w.ws.ReadMessage()
	return msg, err
}

func (w *WebRTC) waitForWelcome() error {
	msg, err := w.readSetup()
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
	w.peerID = welcome.PeerID
	return nil
}

// announce tags this consumer so producers can tell detector sessions apart.
func (w *WebRTC) announce() error {
	return w.writeJSON(map[string]interface{}{
		"type":  "setPeerStatus",
		"roles": []string{},
		"meta": map[string]string{
			"name": "obstacle-" + uuid.NewString(),
		},
	})
}

func (w *WebRTC) findProducer() error {
	if err := w.writeJSON(map[string]string{"type": "list"}); err != nil {
		return err
	}

	for {
		msg, err := w.readSetup()
		if err != nil {
			return err
		}

		var listResp struct {
			Type      string `json:"type"`
			Producers []struct {
				ID   string            `json:"id"`
				Meta map[string]string `json:"meta"`
			} `json:"producers"`
		}
		if err := json.Unmarshal(msg, &listResp); err != nil {
			return err
		}
		if listResp.Type != "list" {
			continue
		}

		for _, p := range listResp.Producers {
			if w.producerName == "" || p.Meta["name"] == w.producerName {
				w.producerID = p.ID
				return nil
			}
		}
		return fmt.Errorf("%w: %q in %d producers", ErrNoProducer, w.producerName, len(listResp.Producers))
	}
}

func (w *WebRTC) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	w.pc = pc

	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		w.log.Info("track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go w.receive(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			w.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		w.log.Debug("connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			w.cancel()
		}
	})

	return nil
}

func (w *WebRTC) handleSignalling() {
	defer w.cancel()

	for {
		_, msg, err := w.ws.ReadMessage()
		if err != nil {
			if w.ctx.Err() == nil {
				w.log.Warn("signalling read failed", "error", err)
			}
			return
		}

		var baseMsg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			w.log.Debug("signalling message ignored", "error", err)
			continue
		}
		debug.Log("webrtc: signalling %s (%d bytes)\n", baseMsg.Type, len(msg))

		switch baseMsg.Type {
		case "sessionStarted":
			w.sessionID.Store(baseMsg.SessionID)
		case "peer":
			w.handlePeerMessage(msg)
		case "endSession":
			w.log.Info("session ended by producer")
			return
		}
	}
}

// peerMessage is the payload of a "peer" signalling message.
type peerMessage struct {
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice"`
}

func (w *WebRTC) handlePeerMessage(msg []byte) {
	var pm peerMessage
	if err := json.Unmarshal(msg, &pm); err != nil {
		w.log.Warn("peer message malformed", "error", err)
		return
	}

	if pm.SDP != nil && pm.SDP.Type == "offer" {
		if err := w.answer(pm.SDP.SDP); err != nil {
			w.log.Error("answer failed", "error", err)
		}
	}

	if pm.ICE != nil {
		if err := w.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     pm.ICE.Candidate,
			SDPMid:        pm.ICE.SDPMid,
			SDPMLineIndex: pm.ICE.SDPMLineIndex,
		}); err != nil {
			w.log.Debug("ice candidate rejected", "error", err)
		}
	}
}

func (w *WebRTC) answer(sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := w.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := w.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := w.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return w.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": w.sessionID.Load().(string),
		"sdp": map[string]string{
			"type": answer.Type.String(),
			"sdp":  answer.SDP,
		},
	})
}

func (w *WebRTC) sendICECandidate(candidate *webrtc.ICECandidate) {
	sessionID := w.sessionID.Load().(string)
	if sessionID == "" {
		return
	}

	init := candidate.ToJSON()
	if err := w.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": sessionID,
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	}); err != nil {
		w.log.Debug("ice send failed", "error", err)
	}
}

func (w *WebRTC) writeJSON(v interface{}) error {
	w.wsMutex.Lock()
	defer w.wsMutex.Unlock()
	return w.ws.WriteJSON(v)
}

// receive depacketizes RTP into access units, keeps the group since the last
// keyframe and decodes it on an interval.
func (w *WebRTC) receive(track *webrtc.TrackRemote) {
	w.trackOnce.Do(func() { close(w.trackReady) })
	defer w.cancel()

	var (
		depacketizer codecs.H264Packet
		unit         []byte
		group        []byte
		lastDecode   time.Time
	)

	for w.ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if w.ctx.Err() == nil {
				w.log.Warn("rtp read failed", "error", err)
			}
			return
		}

		unit = w.appendPayload(&depacketizer, unit, pkt)
		if !pkt.Marker {
			continue
		}

		switch {
		case isKeyframe(unit):
			group = append(group[:0], unit...)
		case len(group) > 0 && len(group)+len(unit) <= maxGroupBytes:
			group = append(group, unit...)
		}
		unit = unit[:0]

		if len(group) == 0 || time.Since(lastDecode) < w.opts.DecodeInterval {
			continue
		}
		lastDecode = time.Now()

		frame, err := w.opts.Decoder.Decode(w.ctx, group)
		if err != nil {
			w.log.Debug("decode skipped", "error", err, "bytes", len(group))
			debug.Log("webrtc: decode skipped (%d bytes): %v\n", len(group), err)
			continue
		}
		debug.Log("webrtc: decoded %d bytes -> %d byte jpeg in %v\n", len(group), len(frame), time.Since(lastDecode).Round(time.Millisecond))
		w.deliver(frame)
	}
}

func (w *WebRTC) appendPayload(depacketizer *codecs.H264Packet, unit []byte, pkt *rtp.Packet) []byte {
	nal, err := depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		w.log.Debug("rtp payload dropped", "error", err, "seq", pkt.SequenceNumber)
		return unit
	}
	return append(unit, nal...)
}

// deliver replaces any undelivered frame with the newest one.
func (w *WebRTC) deliver(frame []byte) {
	select {
	case <-w.frames:
	default:
	}
	select {
	case w.frames <- frame:
	default:
	}
}

// Read waits for the next decoded frame. It reports false once the session
// has ended or no frame arrived within the read timeout.
func (w *WebRTC) Read(dst *gocv.Mat) bool {
	var frame []byte
	select {
	case frame = <-w.frames:
	case <-w.ctx.Done():
		return false
	case <-time.After(w.opts.ReadTimeout):
		w.log.Warn("no frame within read timeout", "timeout", w.opts.ReadTimeout)
		return false
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		w.log.Warn("jpeg decode failed", "error", err)
		return false
	}
	defer img.Close()

	if img.Empty() {
		return false
	}
	img.CopyTo(dst)
	return true
}

// Close tears down the peer connection and signalling socket.
func (w *WebRTC) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		if w.pc != nil {
			err = w.pc.Close()
		}
		if w.ws != nil {
			w.ws.Close()
		}
	})
	return err
}

// Name returns the webrtc:// URL the source was dialled with.
func (w *WebRTC) Name() string {
	return w.name
}
