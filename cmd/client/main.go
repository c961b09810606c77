package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"

	"keygate/internal/config"
	"keygate/internal/constants"
	"keygate/internal/protocol"
)

const (
	colorReset  = constants.ColorReset
	colorBold   = constants.ColorBold
	colorDim    = constants.ColorDim
	colorCyan   = constants.ColorCyan
	colorGreen  = constants.ColorGreen
	colorYellow = constants.ColorYellow
	colorRed    = constants.ColorRed
)

var version = "dev"

type clientCmd struct {
	Addr    string        `help:"gate address" default:"127.0.0.1:34953" env:"KEYGATE_ADDR"`
	URL     string        `name:"url" help:"WebSocket URL (ws://host:port/ws); when set the frame is sent over WebSocket" default:"" env:"KEYGATE_URL"`
	Key     string        `help:"license key" required:"" env:"KEYGATE_KEY"`
	HWID    string        `name:"hwid" help:"hardware id" required:"" env:"KEYGATE_HWID"`
	Release string        `name:"client-version" help:"client version sent in the frame" default:"0" env:"KEYGATE_CLIENT_VERSION"`
	PC      string        `name:"pc" help:"machine name" default:"" env:"KEYGATE_PC"`
	Hash    string        `help:"send this hash instead of computing one" default:""`
	Repeat  int           `help:"send the frame this many times on one connection" default:"1"`
	Timeout time.Duration `help:"dial and answer timeout" default:"5s"`
	Plain   bool          `help:"print only the tokens"`
	Version kong.VersionFlag
}

// exchanger sends one frame and returns the token the gate answered.
type exchanger interface {
	exchange(frame []byte) (protocol.Token, error)
	Close() error
}

type tcpExchanger struct {
	conn    net.Conn
	timeout time.Duration
	buf     []byte
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) (*tcpExchanger, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpExchanger{conn: conn, timeout: timeout, buf: make([]byte, 256)}, nil
}

func (e *tcpExchanger) exchange(frame []byte) (protocol.Token, error) {
	e.conn.SetDeadline(time.Now().Add(e.timeout))
	if _, err := e.conn.Write(frame); err != nil {
		return "", err
	}
	n, err := e.conn.Read(e.buf)
	if err != nil {
		return "", err
	}
	return protocol.Token(e.buf[:n]), nil
}

func (e *tcpExchanger) Close() error { return e.conn.Close() }

type wsExchanger struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func dialWS(ctx context.Context, url string, timeout time.Duration) (*wsExchanger, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsExchanger{conn: conn, timeout: timeout}, nil
}

func (e *wsExchanger) exchange(frame []byte) (protocol.Token, error) {
	e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	if err := e.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return "", err
	}
	e.conn.SetReadDeadline(time.Now().Add(e.timeout))
	_, msg, err := e.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return protocol.Token(msg), nil
}

func (e *wsExchanger) Close() error {
	e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return e.conn.Close()
}

func (c *clientCmd) frame() ([]byte, error) {
	creds := protocol.Credentials{Key: c.Key, HWID: c.HWID, Version: c.Release, PC: c.PC, Hash: c.Hash}
	if creds.Hash == "" {
		creds.Hash = creds.Expected()
	}
	return json.Marshal(creds)
}

func (c *clientCmd) dial(ctx context.Context) (exchanger, string, error) {
	if c.URL != "" {
		ex, err := dialWS(ctx, c.URL, c.Timeout)
		return ex, c.URL, err
	}
	ex, err := dialTCP(ctx, c.Addr, c.Timeout)
	return ex, c.Addr, err
}

// Run sends the frame and reports whether the last answer granted access.
func (c *clientCmd) Run(ctx context.Context, out io.Writer) (bool, error) {
	frame, err := c.frame()
	if err != nil {
		return false, err
	}

	ex, target, err := c.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer ex.Close()

	if !c.Plain {
		printBanner(out)
		printField(out, "gate", target, colorCyan)
		printField(out, "key", c.Key, colorReset)
		printField(out, "hwid", c.HWID, colorReset)
		printField(out, "version", c.Release, colorReset)
		fmt.Fprintln(out)
	}

	granted := false
	for i := 0; i < c.Repeat; i++ {
		tok, err := ex.exchange(frame)
		if err != nil {
			return false, fmt.Errorf("no answer from %s: %w", target, err)
		}
		granted = tok == protocol.TokenAccess
		if c.Plain {
			fmt.Fprintln(out, tok)
			continue
		}
		printField(out, "answer", tok.String(), tokenColor(tok))
	}
	return granted, nil
}

func tokenColor(tok protocol.Token) string {
	switch tok {
	case protocol.TokenAccess:
		return colorGreen
	case protocol.TokenRateLimited, protocol.TokenAdmissionRejected, protocol.TokenTooLarge:
		return colorYellow
	default:
		return colorRed
	}
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s%s%s%s %s%s%s\n", colorBold, colorCyan, constants.AppName, colorReset, colorDim, version, colorReset)
	fmt.Fprintf(w, "  %s%s%s\n", colorDim, strings.Repeat("─", 40), colorReset)
}

func printField(w io.Writer, label, value, valueColor string) {
	fmt.Fprintf(w, "  %s%-10s%s %s%s%s\n", colorDim, label, colorReset, valueColor, value, colorReset)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli clientCmd
	kctx := kong.Parse(&cli,
		kong.Name(constants.AppName+"-client"),
		kong.Description("Send one credential frame to a keygate server"),
		kong.Vars{"version": version})

	var out bytes.Buffer
	granted, err := cli.Run(context.Background(), &out)
	os.Stdout.Write(out.Bytes())
	kctx.FatalIfErrorf(err)
	if !granted {
		os.Exit(1)
	}
}
