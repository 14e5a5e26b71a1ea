package us

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const (
	emptyFile     = ".etf-empty"
	completedFile = ".etf-last-completed"
)

// progressTracker persists which symbols came back empty for the current end
// date and which end date the last complete pass reached, so an interrupted
// pass can resume and a finished one is not repeated.
type progressTracker struct {
	mu     sync.Mutex
	dir    string
	empty  map[string]struct{}
	file   *os.File
	writer *bufio.Writer
}

func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	p := &progressTracker{dir: dir, empty: make(map[string]struct{})}
	if data, err := os.ReadFile(filepath.Join(dir, emptyFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				p.empty[sym] = struct{}{}
			}
		}
	}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(filepath.Join(p.dir, emptyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", emptyFile, err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsEmpty reports whether symbol already came back without bars.
func (p *progressTracker) IsEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.empty[symbol]
	return ok
}

// MarkEmpty records symbols that returned no bars.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.empty[sym]; ok {
			continue
		}
		p.empty[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", emptyFile, err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted records that the universe identified by signature is
// complete through endDate.
func (p *progressTracker) MarkCompleted(endDate, signature string) error {
	return os.WriteFile(filepath.Join(p.dir, completedFile), []byte(endDate+" "+signature+"\n"), 0o644)
}

// LastCompleted returns the end date and universe signature of the last
// complete pass, or empty strings.
func (p *progressTracker) LastCompleted() (endDate, signature string) {
	data, err := os.ReadFile(filepath.Join(p.dir, completedFile))
	if err != nil {
		return "", ""
	}
	endDate, signature, _ = strings.Cut(strings.TrimSpace(string(data)), " ")
	return endDate, signature
}

// IsCompleted reports whether the last complete pass matches both values.
func (p *progressTracker) IsCompleted(endDate, signature string) bool {
	d, s := p.LastCompleted()
	return d == endDate && s == signature
}

// Reset forgets every empty symbol.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.empty = make(map[string]struct{})
	if err := os.Remove(filepath.Join(p.dir, emptyFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", emptyFile, err)
	}
	return p.open()
}

// Close flushes and closes the empty-symbol log.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// universeSignature identifies a symbol set independent of order.
func universeSignature(symbols []string) string {
	sorted := slices.Clone(symbols)
	slices.Sort(sorted)
	h := fnv.New64a()
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
