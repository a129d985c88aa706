package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Snapshot is the durable image of one strategy instance. Amounts and
// prices are decimal strings of 1e18-scaled integers so the file stays
// readable and round-trips without float loss.
type Snapshot struct {
	Variant         string    `json:"variant"`
	Strategy        string    `json:"strategy"`
	Owner           string    `json:"owner"`
	Pair            string    `json:"pair"`
	Status          string    `json:"status"`
	LowerPrice      string    `json:"lower_price"`
	UpperPrice      string    `json:"upper_price"`
	GridPrice       string    `json:"grid_price"`
	TriggerPrice    string    `json:"trigger_price"`
	TotalInvestment string    `json:"total_investment"`
	ExtraTokenB     string    `json:"extra_token_b,omitempty"`
	LastPrice       string    `json:"last_price,omitempty"`
	Anchor          string    `json:"anchor,omitempty"`
	LowerPosition   uint64    `json:"lower_position,omitempty"`
	UpperPosition   uint64    `json:"upper_position,omitempty"`
	BalanceA        string    `json:"balance_a"`
	BalanceB        string    `json:"balance_b"`
	Slippage        uint64    `json:"slippage"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RebalanceRecord is one line in the append-only rebalance ledger.
type RebalanceRecord struct {
	Strategy     string    `json:"strategy"`
	Direction    string    `json:"direction"`
	Price        string    `json:"price"`
	AmountIn     string    `json:"amount_in"`
	AmountOut    string    `json:"amount_out"`
	ExecutionFee string    `json:"execution_fee,omitempty"`
	SwapFee      string    `json:"swap_fee,omitempty"`
	Caller       string    `json:"caller,omitempty"`
	At           time.Time `json:"at"`
}

type RuntimeStatus struct {
	Mode           string     `json:"mode"`
	InstanceID     string     `json:"instance_id"`
	PID            int        `json:"pid"`
	State          string     `json:"state"`
	Strategies     int        `json:"strategies"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastError      string     `json:"last_error,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

// Persister is what strategies need from the store. Kept narrow so
// tests can swap in a recorder.
type Persister interface {
	SaveSnapshot(snap Snapshot) error
	AppendRebalance(rec RebalanceRecord) error
}

type Store struct {
	root          string
	mu            sync.Mutex
	ledgerLoaded  bool
	ledgerEntries []RebalanceRecord
}

const (
	ledgerMaxEntries    = 10000
	ledgerTrimToEntries = 8000
)

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(filepath.Join(root, "snapshots"), 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) SaveSnapshot(snap Snapshot) error {
	if strings.TrimSpace(snap.Strategy) == "" {
		return errors.New("snapshot strategy id required")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.snapshotPath(snap.Strategy), snap)
}

func (s *Store) LoadSnapshot(strategy string) (Snapshot, bool, error) {
	data, err := os.ReadFile(s.snapshotPath(strategy))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// ListSnapshots returns every stored strategy snapshot, unordered.
func (s *Store) ListSnapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "snapshots"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		snap, ok, err := s.LoadSnapshot(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *Store) AppendRebalance(rec RebalanceRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLedgerLocked(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.ledgerPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	s.ledgerEntries = append(s.ledgerEntries, rec)
	if len(s.ledgerEntries) > ledgerMaxEntries {
		return s.trimLedgerLocked()
	}
	return nil
}

// RecentRebalances returns up to limit ledger entries, newest last.
func (s *Store) RecentRebalances(strategy string, limit int) ([]RebalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLedgerLocked(); err != nil {
		return nil, err
	}
	matched := make([]RebalanceRecord, 0, limit)
	for _, rec := range s.ledgerEntries {
		if strategy != "" && !strings.EqualFold(rec.Strategy, strategy) {
			continue
		}
		matched = append(matched, rec)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (s *Store) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.runtimeStatusPath(), status)
}

func (s *Store) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(s.runtimeStatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

func (s *Store) trimLedgerLocked() error {
	if len(s.ledgerEntries) <= ledgerMaxEntries {
		return nil
	}
	keep := ledgerTrimToEntries
	if keep > len(s.ledgerEntries) {
		keep = len(s.ledgerEntries)
	}
	start := len(s.ledgerEntries) - keep
	kept := append([]RebalanceRecord(nil), s.ledgerEntries[start:]...)
	if err := writeJSONLinesAtomic(s.ledgerPath(), kept); err != nil {
		return err
	}
	s.ledgerEntries = kept
	return nil
}

func (s *Store) loadLedgerLocked() error {
	if s.ledgerLoaded {
		return nil
	}
	s.ledgerEntries = make([]RebalanceRecord, 0)
	f, err := os.Open(s.ledgerPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.ledgerLoaded = true
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec RebalanceRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip torn tail lines from a crash mid-append.
			continue
		}
		s.ledgerEntries = append(s.ledgerEntries, rec)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	s.ledgerLoaded = true
	return nil
}

func (s *Store) snapshotPath(strategy string) string {
	name := strings.ToLower(strings.TrimSpace(strategy))
	return filepath.Join(s.root, "snapshots", name+".json")
}

func (s *Store) ledgerPath() string {
	return filepath.Join(s.root, "rebalances.jsonl")
}

func (s *Store) runtimeStatusPath() string {
	return filepath.Join(s.root, "runtime_status.json")
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return fsyncDirBestEffort(dir, path)
}

func writeJSONLinesAtomic(path string, entries []RebalanceRecord) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return fsyncDirBestEffort(dir, path)
}

func fsyncDirBestEffort(dir, path string) error {
	// Best-effort directory fsync to improve rename durability across crashes.
	d, err := os.Open(dir)
	if err != nil {
		log.Printf(
			"level=WARN event=store_dir_fsync_skipped reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
		return nil
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Printf(
			"level=WARN event=store_dir_fsync_failed reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
		return nil
	}
	return nil
}
