package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
)

func sampleRow(id, text string) Row {
	author := chat.NewAuthor(chat.ServiceTwitch, "viewer", "Viewer")
	msg := chat.NewMessage(author).WithID(id).Text(text).Destination("somechannel").Build()
	msg.Seq = 7
	return NewRow(msg, *author)
}

func TestNewRowFlattens(t *testing.T) {
	row := sampleRow("m1", "hello")

	assert.Equal(t, "twitch", row.Service)
	assert.Equal(t, "twitch/m1", row.ID)
	assert.Equal(t, "twitch/viewer", row.AuthorID)
	assert.Equal(t, "Viewer", row.AuthorName)
	assert.Equal(t, "hello", row.Text)
	assert.Equal(t, "somechannel", row.Destination)
	assert.Equal(t, uint64(7), row.Seq)
}

func TestRecordAndFlush(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 2, 60, 100, zap.NewNop())
	require.NoError(t, os.MkdirAll(dir, 0755))

	// Buffer size 2: second record flushes.
	require.NoError(t, r.record(sampleRow("m1", "first")))
	require.NoError(t, r.record(sampleRow("m2", "second")))

	files, err := filepath.Glob(filepath.Join(dir, "twitch_*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	var rows []Row
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row Row
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0].Text)
	assert.Equal(t, "second", rows[1].Text)
}

func TestFlushAllQueuesFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 100, 60, 100, zap.NewNop())

	require.NoError(t, r.record(sampleRow("m1", "buffered")))

	fileChan := make(chan string, 4)
	r.flushAll(fileChan)

	select {
	case path := <-fileChan:
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "buffered")
	default:
		t.Fatal("no file queued for upload")
	}
}

func TestTapDropsWhenFull(t *testing.T) {
	tap := NewTap(1, zap.NewNop())

	author := chat.NewAuthor(chat.ServiceKick, "viewer", "Viewer")
	first := chat.NewMessage(author).WithID("m1").Text("kept").Build()
	second := chat.NewMessage(author).WithID("m2").Text("dropped").Build()

	tap.OnMessageAdded(first, *author)
	tap.OnMessageAdded(second, *author)

	select {
	case row := <-tap.Rows():
		assert.Equal(t, "kept", row.Text)
	case <-time.After(time.Second):
		t.Fatal("no row delivered")
	}

	select {
	case row := <-tap.Rows():
		t.Fatalf("unexpected second row %q", row.Text)
	default:
	}
}
