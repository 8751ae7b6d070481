package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/proxycloak/proxycloak/fingerprint"
)

func readTestResponse(raw string) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), &http.Request{Method: "GET"})
}

// h1TestServer reads one full request off the connection and writes a
// canned response, returning the raw request bytes.
func h1TestServer(t *testing.T, conn net.Conn, response string) <-chan string {
	t.Helper()
	out := make(chan string, 1)
	go func() {
		defer close(out)
		br := bufio.NewReader(conn)
		var raw bytes.Buffer
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			raw.WriteString(line)
			if line == "\r\n" {
				break
			}
		}
		conn.Write([]byte(response))
		out <- raw.String()
	}()
	return out
}

func TestH1RoundTripWireFormat(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	raw := h1TestServer(t, server, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")

	c := newH1Conn(client, 5*time.Second)
	resp, err := c.roundTrip(context.Background(), &Request{
		Method: "GET",
		Host:   "example.com",
		Path:   "/search?q=go",
		Headers: []fingerprint.HeaderPair{
			{Name: "sec-ch-ua", Value: `"Chromium";v="131"`},
			{Name: "User-Agent", Value: "test-agent"},
			{Name: "Accept", Value: "*/*"},
		},
	})
	if err != nil {
		t.Fatalf("roundTrip: %v", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	if string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}

	wire := <-raw
	lines := strings.Split(wire, "\r\n")
	want := []string{
		"GET /search?q=go HTTP/1.1",
		"Host: example.com",
		`sec-ch-ua: "Chromium";v="131"`,
		"User-Agent: test-agent",
		"Accept: */*",
	}
	for i, w := range want {
		if i >= len(lines) || lines[i] != w {
			t.Fatalf("wire line %d = %q, want %q\nfull request:\n%s", i, lines[i], w, wire)
		}
	}

	if c.isBroken() {
		t.Error("keep-alive response marked the connection broken")
	}
}

func TestH1RoundTripConnectionClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	h1TestServer(t, server, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")

	c := newH1Conn(client, 5*time.Second)
	resp, err := c.roundTrip(context.Background(), &Request{Method: "GET", Host: "example.com", Path: "/"})
	if err != nil {
		t.Fatalf("roundTrip: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !c.isBroken() {
		t.Error("Connection: close response left the connection reusable")
	}
}

func TestH1RoundTripEmptyPathDefaultsToRoot(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	raw := h1TestServer(t, server, "HTTP/1.1 204 No Content\r\n\r\n")

	c := newH1Conn(client, 5*time.Second)
	resp, err := c.roundTrip(context.Background(), &Request{Method: "GET", Host: "example.com"})
	if err != nil {
		t.Fatalf("roundTrip: %v", err)
	}
	resp.Body.Close()

	if wire := <-raw; !strings.HasPrefix(wire, "GET / HTTP/1.1\r\n") {
		t.Errorf("request line: %q", strings.SplitN(wire, "\r\n", 2)[0])
	}
}

func TestH1RoundTripAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := newH1Conn(client, time.Second)
	c.close()

	if _, err := c.roundTrip(context.Background(), &Request{Method: "GET", Host: "x"}); err != ErrClosed {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestWriteChunked(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	if err := writeChunked(w, strings.NewReader("hello world")); err != nil {
		t.Fatalf("writeChunked: %v", err)
	}

	want := "b\r\nhello world\r\n0\r\n\r\n"
	if buf.String() != want {
		t.Errorf("chunked framing = %q, want %q", buf.String(), want)
	}

	// The framing must parse back through a standard chunked reader.
	resp := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" + buf.String()
	parsed, err := readTestResponse(resp)
	if err != nil {
		t.Fatalf("parse framed response: %v", err)
	}
	body, _ := io.ReadAll(parsed.Body)
	if string(body) != "hello world" {
		t.Errorf("decoded body = %q", body)
	}
}

func TestWriteChunkedEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	if err := writeChunked(w, strings.NewReader("")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "0\r\n\r\n" {
		t.Errorf("empty chunked body = %q", buf.String())
	}
}
