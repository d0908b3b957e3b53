package qiniu

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Binary frame protocol of the streaming ASR endpoint. Every frame starts
// with a 4 byte header, then an optional sequence number, the payload size
// and the payload, all big endian.
const (
	protocolVersion = 0x1
	headerSize      = 0x1 // in 4 byte words

	msgTypeFullClientRequest   = 0x1
	msgTypeAudioOnlyRequest    = 0x2
	msgTypeFullServiceResponse = 0x9
	msgTypeError               = 0xF

	flagNoSequence  = 0x0
	flagPosSequence = 0x1
	flagLastPacket  = 0x2

	serializationNone = 0x0
	serializationJSON = 0x1

	compressionNone = 0x0
	compressionGzip = 0x1

	// 0.2 seconds of 16 kHz 16-bit mono
	audioChunkSize = 3200

	streamResultTimeout = 30 * time.Second
)

type streamConfig struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format     string `json:"format"`
		SampleRate int    `json:"sample_rate"`
		Bits       int    `json:"bits"`
		Channel    int    `json:"channel"`
		Codec      string `json:"codec"`
	} `json:"audio"`
	Request struct {
		ModelName  string `json:"model_name"`
		EnablePunc bool   `json:"enable_punc"`
	} `json:"request"`
}

// frame is one decoded protocol message
type frame struct {
	msgType  byte
	flags    byte
	sequence int32
	payload  []byte
}

func buildFrame(msgType, flags, serialization, compression byte, sequence int32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		protocolVersion<<4 | headerSize,
		msgType<<4 | flags,
		serialization<<4 | compression,
		0,
	})
	if flags&flagPosSequence != 0 {
		_ = binary.Write(&buf, binary.BigEndian, sequence)
	}
	_ = binary.Write(&buf, binary.BigEndian, int32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func parseFrame(data []byte) (frame, error) {
	if len(data) < 8 {
		return frame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	f := frame{
		msgType: data[1] >> 4,
		flags:   data[1] & 0x0F,
	}
	compression := data[2] & 0x0F

	r := bytes.NewReader(data[int(data[0]&0x0F)*4:])
	if f.flags&flagPosSequence != 0 {
		if err := binary.Read(r, binary.BigEndian, &f.sequence); err != nil {
			return frame{}, fmt.Errorf("read sequence: %w", err)
		}
	}
	var size int32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return frame{}, fmt.Errorf("read payload size: %w", err)
	}
	if size < 0 || int(size) > r.Len() {
		return frame{}, fmt.Errorf("payload size %d exceeds frame", size)
	}
	f.payload = make([]byte, size)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return frame{}, fmt.Errorf("read payload: %w", err)
	}

	if compression == compressionGzip {
		zr, err := gzip.NewReader(bytes.NewReader(f.payload))
		if err != nil {
			return frame{}, fmt.Errorf("failed to decompress payload: %w", err)
		}
		defer zr.Close()
		if f.payload, err = io.ReadAll(zr); err != nil {
			return frame{}, fmt.Errorf("failed to decompress payload: %w", err)
		}
	}
	return f, nil
}

// resultText digs the transcript out of the shapes the service answers with
func resultText(payload []byte) string {
	var resp struct {
		Result struct {
			Text string `json:"text"`
		} `json:"result"`
		Data struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return ""
	}
	if resp.Result.Text != "" {
		return resp.Result.Text
	}
	return resp.Data.Result.Text
}

// StreamASR transcribes raw 16 kHz 16-bit mono PCM over the websocket
// endpoint. The last non-empty transcript before the server closes wins.
func (c *Client) StreamASR(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) > 44 && string(pcm[:4]) == "RIFF" {
		pcm = pcm[44:]
	}
	logger := c.logger.With(zap.String("session_id", uuid.NewString()))

	header := http.Header{}
	header.Add("Authorization", "Bearer "+c.cfg.APIKey)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.cfg.StreamURL, header)
	if err != nil {
		return "", fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	defer conn.Close()

	var cfg streamConfig
	cfg.User.UID = uuid.NewString()
	cfg.Audio.Format = "pcm"
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Bits = 16
	cfg.Audio.Channel = 1
	cfg.Audio.Codec = "raw"
	cfg.Request.ModelName = "asr"
	cfg.Request.EnablePunc = true

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage,
		buildFrame(msgTypeFullClientRequest, flagNoSequence, serializationJSON, compressionNone, 0, cfgJSON)); err != nil {
		return "", fmt.Errorf("failed to send config frame: %w", err)
	}

	_, ack, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("failed to read config ack: %w", err)
	}
	ackFrame, err := parseFrame(ack)
	if err != nil {
		return "", fmt.Errorf("failed to parse config ack: %w", err)
	}
	if ackFrame.msgType == msgTypeError {
		return "", fmt.Errorf("config rejected: %s", ackFrame.payload)
	}
	logger.Debug("Streaming ASR session configured")

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		var text string
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					done <- outcome{text: text}
					return
				}
				done <- outcome{text: text, err: fmt.Errorf("failed to read message: %w", err)}
				return
			}
			f, err := parseFrame(message)
			if err != nil {
				logger.Warn("Failed to parse frame", zap.Error(err))
				continue
			}
			if f.msgType == msgTypeError {
				done <- outcome{err: fmt.Errorf("asr error: %s", f.payload)}
				return
			}
			if t := resultText(f.payload); t != "" {
				text = t
			}
			if f.flags&flagLastPacket != 0 {
				done <- outcome{text: text}
				return
			}
		}
	}()

	// sequence numbers 0 and 1 are reserved
	sequence := int32(2)
	for offset := 0; offset < len(pcm); offset += audioChunkSize {
		chunk := pcm[offset:min(offset+audioChunkSize, len(pcm))]
		if err := conn.WriteMessage(websocket.BinaryMessage,
			buildFrame(msgTypeAudioOnlyRequest, flagPosSequence, serializationNone, compressionNone, sequence, chunk)); err != nil {
			return "", fmt.Errorf("failed to send audio frame: %w", err)
		}
		sequence++

		if c.cfg.ChunkInterval > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.cfg.ChunkInterval):
			}
		}
	}
	logger.Debug("All audio chunks sent", zap.Int32("frames", sequence-2))

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case res := <-done:
		if res.err != nil && res.text == "" {
			return "", res.err
		}
		if res.text == "" {
			return "", errors.New("no recognition result received")
		}
		return res.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(streamResultTimeout):
		return "", errors.New("timeout waiting for ASR result")
	}
}
