// Package recorder persists the chat feed as JSONL archives, one file per
// service, rotated by age and size. Rotated files are handed to the uploader
// over a channel.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
)

// Row is one archived line. It flattens the canonical message and its author
// into a shape that survives schema-free consumers.
type Row struct {
	Service     string    `json:"service"`
	Destination string    `json:"destination,omitempty"`
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	ReceivedAt  time.Time `json:"receivedAt"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName,omitempty"`
	Text        string    `json:"text"`
	Flags       []string  `json:"flags,omitempty"`
}

// NewRow flattens a stored message/author pair.
func NewRow(msg chat.Message, author chat.Author) Row {
	flags := make([]string, 0, len(msg.Flags))
	for f := range msg.Flags {
		flags = append(flags, string(f))
	}

	return Row{
		Service:     author.ServiceType.ID(),
		Destination: msg.Destination,
		ID:          msg.ID,
		Seq:         msg.Seq,
		PublishedAt: msg.PublishedAt,
		ReceivedAt:  msg.ReceivedAt,
		AuthorID:    msg.AuthorID,
		AuthorName:  author.Name,
		Text:        msg.PlainText(),
		Flags:       flags,
	}
}

// Tap adapts the store listener surface to the recorder's channel. Listener
// callbacks run under the store lock, so the send never blocks: when the
// recorder falls behind, rows are dropped rather than stalling ingestion.
type Tap struct {
	rows chan Row
	log  *zap.Logger
}

func NewTap(buffer int, log *zap.Logger) *Tap {
	return &Tap{rows: make(chan Row, buffer), log: log}
}

func (t *Tap) Rows() <-chan Row { return t.rows }

func (t *Tap) OnMessageAdded(msg chat.Message, author chat.Author) {
	select {
	case t.rows <- NewRow(msg, author):
	default:
		t.log.Warn("recorder backlog full, dropping row", zap.String("id", msg.ID))
	}
}

func (t *Tap) OnMessageUpdated(chat.Message, []string) {}

// fileWriter manages a single JSONL file.
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	buffer       []Row
	service      string
	filename     string
}

// Recorder buffers rows and writes them to per-service JSONL files.
type Recorder struct {
	outputDir   string
	bufferSize  int
	rotateAge   time.Duration
	rotateBytes int64
	log         *zap.Logger

	currentFiles map[string]*fileWriter // key: service id
	mu           sync.Mutex
}

func New(outputDir string, bufferSize, rotateMinutes, rotateMegabytes int, log *zap.Logger) *Recorder {
	return &Recorder{
		outputDir:    outputDir,
		bufferSize:   bufferSize,
		rotateAge:    time.Duration(rotateMinutes) * time.Minute,
		rotateBytes:  int64(rotateMegabytes) * 1024 * 1024,
		log:          log,
		currentFiles: make(map[string]*fileWriter),
	}
}

// Start consumes rows until ctx is cancelled, then flushes and closes every
// open file. Completed files are announced on fileChan for upload.
func (r *Recorder) Start(ctx context.Context, rows <-chan Row, fileChan chan<- string) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case row := <-rows:
			if err := r.record(row); err != nil {
				r.log.Error("record row", zap.Error(err))
			}

		case <-ticker.C:
			r.checkRotation(fileChan)

		case <-ctx.Done():
			r.log.Info("recorder shutting down, flushing buffers")
			r.flushAll(fileChan)
			return ctx.Err()
		}
	}
}

func (r *Recorder) record(row Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fw := r.currentFiles[row.Service]
	if fw == nil {
		var err error
		fw, err = r.createFileWriter(row.Service)
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		r.currentFiles[row.Service] = fw
	}

	fw.buffer = append(fw.buffer, row)

	if len(fw.buffer) >= r.bufferSize {
		if err := r.flushFileWriter(fw); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}

	return nil
}

func (r *Recorder) createFileWriter(service string) (*fileWriter, error) {
	timestamp := time.Now().UTC().Format("20060102_1504")
	filename := fmt.Sprintf("%s_%s.jsonl", service, timestamp)
	path := filepath.Join(r.outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	r.log.Info("created new log file", zap.String("file", filename))

	return &fileWriter{
		file:      file,
		writer:    bufio.NewWriter(file),
		createdAt: time.Now(),
		buffer:    make([]Row, 0, r.bufferSize),
		service:   service,
		filename:  filename,
	}, nil
}

func (r *Recorder) flushFileWriter(fw *fileWriter) error {
	for _, row := range fw.buffer {
		data, err := json.Marshal(row)
		if err != nil {
			r.log.Error("marshal row", zap.Error(err))
			continue
		}

		n, err := fw.writer.Write(data)
		if err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		fw.bytesWritten += int64(n)

		if err := fw.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
		fw.bytesWritten++
	}

	fw.buffer = fw.buffer[:0]

	return fw.writer.Flush()
}

func (r *Recorder) checkRotation(fileChan chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fw := range r.currentFiles {
		needsRotation := false

		if time.Since(fw.createdAt) >= r.rotateAge {
			needsRotation = true
			r.log.Info("rotating file", zap.String("file", fw.filename), zap.String("reason", "age"))
		}

		if fw.bytesWritten >= r.rotateBytes {
			needsRotation = true
			r.log.Info("rotating file", zap.String("file", fw.filename), zap.String("reason", "size"))
		}

		if needsRotation {
			r.rotateFile(key, fw, fileChan)
		}
	}
}

func (r *Recorder) rotateFile(key string, fw *fileWriter, fileChan chan<- string) {
	r.closeFileWriter(fw, fileChan)

	newFw, err := r.createFileWriter(fw.service)
	if err != nil {
		r.log.Error("create replacement file writer", zap.Error(err))
		delete(r.currentFiles, key)
		return
	}

	r.currentFiles[key] = newFw
}

func (r *Recorder) flushAll(fileChan chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fw := range r.currentFiles {
		r.closeFileWriter(fw, fileChan)
		delete(r.currentFiles, key)
	}

	r.log.Info("all files flushed and closed")
}

func (r *Recorder) closeFileWriter(fw *fileWriter, fileChan chan<- string) {
	if err := r.flushFileWriter(fw); err != nil {
		r.log.Error("flush file writer", zap.Error(err))
	}
	if err := fw.file.Close(); err != nil {
		r.log.Error("close file", zap.Error(err))
	}

	path := filepath.Join(r.outputDir, fw.filename)
	select {
	case fileChan <- path:
		r.log.Info("queued file for upload", zap.String("file", fw.filename))
	default:
		r.log.Warn("upload queue full, file left on disk", zap.String("file", fw.filename))
	}
}
