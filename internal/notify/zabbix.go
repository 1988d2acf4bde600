package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13 // "ZBXD\x01" + uint64 length
	maxReplySize     = 64 * 1024
)

var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// encodeZabbixFrame prefixes data with the sender protocol header.
func encodeZabbixFrame(data []byte) []byte {
	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(data))
	copy(frame, zabbixMagic[:])
	binary.LittleEndian.PutUint64(frame[5:], uint64(len(data)))
	return append(frame, data...)
}

// readZabbixReply reads and decodes one framed reply.
func readZabbixReply(r io.Reader) (zabbixResponse, error) {
	var resp zabbixResponse

	header := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return resp, util.WrapError("read zabbix reply header", err)
	}
	if !bytes.Equal(header[:5], zabbixMagic[:]) {
		return resp, fmt.Errorf("invalid zabbix reply header")
	}

	size := binary.LittleEndian.Uint64(header[5:])
	if size == 0 {
		return resp, fmt.Errorf("empty zabbix reply")
	}
	if size > maxReplySize {
		return resp, fmt.Errorf("zabbix reply too large: %d bytes (max %d)", size, maxReplySize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return resp, util.WrapError("read zabbix reply body", err)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, util.WrapError("parse zabbix reply", err)
	}
	return resp, nil
}

// sendZabbixPayload sends one sender request and checks the reply.
func sendZabbixPayload(ctx context.Context, server string, port int, payload zabbixRequest) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	dialer := net.Dialer{Timeout: zabbixTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(server, strconv.Itoa(port)))
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer util.SafeCloseFunc(conn, "zabbix connection")()

	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set deadline", err)
	}
	if _, err := conn.Write(encodeZabbixFrame(data)); err != nil {
		return util.WrapError("write zabbix request", err)
	}

	resp, err := readZabbixReply(conn)
	if err != nil {
		return err
	}
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}
	return nil
}

// sendZabbixValue sends one trapper value. Unconfigured targets are skipped.
func sendZabbixValue(ctx context.Context, cfg types.ZabbixConfig, value string) error {
	if !util.IsConfigured(cfg.Server, cfg.Host, cfg.Key) {
		return nil
	}
	return sendZabbixPayload(ctx, cfg.Server, cfg.Port, zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: cfg.Host, Key: cfg.Key, Value: value}},
	})
}

// SendAlertZabbix sends an alert as a trapper value.
func SendAlertZabbix(ctx context.Context, cfg types.ZabbixConfig, a Alert) error {
	return sendZabbixValue(ctx, cfg, a.zabbixValue())
}

// SendTestZabbix sends a test value to verify the Zabbix configuration.
func SendTestZabbix(ctx context.Context, cfg types.ZabbixConfig) error {
	if !util.IsConfigured(cfg.Server, cfg.Host, cfg.Key) {
		return fmt.Errorf("zabbix server, host, and key are required")
	}
	return sendZabbixValue(ctx, cfg, "event=TEST source=akm-control")
}
