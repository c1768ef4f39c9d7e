package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSink_AppendsRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.ndjson")
	sink := NewFileSink("archive", AcceptAll(), path, FileRotation{MaxSizeMB: 8})
	defer sink.Close()

	events := []*EnrichedEvent{
		{Base: mustEvent(t, NewEvent(EventAdminCreate).WithTarget(Target{Kind: "project", ID: "P-1"}))},
		{Base: mustEvent(t, NewEvent(EventAdminDelete).WithTarget(Target{Kind: "project", ID: "P-2"}))},
	}
	for _, ev := range events {
		if err := sink.Publish(context.Background(), ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line is not valid JSON: %v (%q)", err, scanner.Text())
		}
		lines = append(lines, rec)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].ID != events[0].Base.ID || lines[1].ID != events[1].Base.ID {
		t.Error("records out of order or wrong ids")
	}
	if lines[0].Target == nil || lines[0].Target.ID != "P-1" {
		t.Errorf("first record target = %+v", lines[0].Target)
	}
}

func TestJSONStreamSink_DeliversLines(t *testing.T) {
	dir := t.TempDir()
	socket := filepath.Join(dir, "collector.sock")

	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	linesCh := make(chan string, 2)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			linesCh <- scanner.Text()
		}
	}()

	sink, err := NewJSONStreamSink("collector", AcceptAll(), StreamUnix, socket)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer sink.Close()

	event := mustEvent(t, NewEvent(EventShare))
	if err := sink.Publish(context.Background(), &EnrichedEvent{Base: event}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	line := <-linesCh
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("bad line %q: %v", line, err)
	}
	if rec.ID != event.ID || rec.EventType != EventShare {
		t.Errorf("record = %+v", rec)
	}
}

func TestJSONStreamSink_DialFailureIsTransient(t *testing.T) {
	sink, err := NewJSONStreamSink("collector", AcceptAll(), StreamTCP, "127.0.0.1:1")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	err = sink.Publish(context.Background(), &EnrichedEvent{Base: mustEvent(t, NewEvent(EventShare))})
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if IsPermanent(err) {
		t.Errorf("dial failure classified permanent: %v", err)
	}
}

func TestJSONStreamSink_UnknownNetwork(t *testing.T) {
	if _, err := NewJSONStreamSink("collector", AcceptAll(), "sctp", "addr"); err == nil {
		t.Fatal("expected construction error")
	}
}
