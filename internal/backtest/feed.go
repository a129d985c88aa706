// Package backtest replays recorded price ticks through the crank so a
// strategy configuration can be evaluated against historical data before
// it runs against a live feed.
package backtest

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one recorded price observation, quoted like the config prices
// (units of A per B, human scale).
type Tick struct {
	Time  time.Time
	Price decimal.Decimal
}

type Feed interface {
	Next() (Tick, error)
	Close() error
}

// JSONLFeed reads ticks from one .jsonl file or every .jsonl file in a
// directory, in lexical order. Lines it cannot parse are skipped, so a
// torn tail from a crashed recorder does not abort a replay.
type JSONLFeed struct {
	paths   []string
	index   int
	file    *os.File
	scanner *bufio.Scanner
}

func NewJSONLFeed(path string) (*JSONLFeed, error) {
	paths, err := resolveJSONLPaths(path)
	if err != nil {
		return nil, err
	}
	feed := &JSONLFeed{paths: paths}
	if err := feed.openCurrent(); err != nil {
		return nil, err
	}
	return feed, nil
}

func (f *JSONLFeed) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.scanner = nil
	return err
}

type tickLine struct {
	Time  string `json:"time"`
	Price string `json:"price"`
}

func (f *JSONLFeed) Next() (Tick, error) {
	for {
		if f.scanner == nil {
			if err := f.openCurrent(); err != nil {
				return Tick{}, err
			}
		}
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return Tick{}, err
			}
			_ = f.Close()
			f.index++
			if f.index >= len(f.paths) {
				return Tick{}, io.EOF
			}
			continue
		}
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" {
			continue
		}
		var raw tickLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw.Time)
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(raw.Price)
		if err != nil || price.Sign() <= 0 {
			continue
		}
		return Tick{Time: ts, Price: price}, nil
	}
}

func (f *JSONLFeed) openCurrent() error {
	if f.index >= len(f.paths) {
		return io.EOF
	}
	file, err := os.Open(f.paths[f.index])
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	f.file = file
	f.scanner = scanner
	return nil
}

func resolveJSONLPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jsonl") {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, errors.New("no jsonl files found in directory")
	}
	return paths, nil
}

var _ Feed = (*JSONLFeed)(nil)
