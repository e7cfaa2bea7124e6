// Package checkpoint persists the run progress cursor so an interrupted
// sync resumes where it stopped.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stortinget-register/internal/storage"
)

// State is the process-wide resumption cursor. It is created at run start,
// mutated throughout the run, and cleared only after a full successful
// completion.
type State struct {
	LastDateScanned     string `json:"last_date_scanned,omitempty"`
	RunStartedAt        string `json:"run_started_at,omitempty"`
	DatesScanned        int    `json:"dates_scanned"`
	DocumentsFound      int    `json:"documents_found"`
	DocumentsDownloaded int    `json:"documents_downloaded"`
	Errors              int    `json:"errors"`
}

// Store reads and writes the checkpoint through the storage backend.
type Store struct {
	backend storage.Backend
	path    string
}

// NewStore creates a checkpoint store at the given storage path.
func NewStore(backend storage.Backend, path string) *Store {
	return &Store{backend: backend, path: path}
}

// Load returns the persisted state, or the zero state if none exists.
func (s *Store) Load(ctx context.Context) (State, error) {
	raw, err := s.backend.ReadBytes(ctx, s.path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("load checkpoint: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return state, nil
}

// Save atomically overwrites the checkpoint.
func (s *Store) Save(ctx context.Context, state State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.backend.WriteBytes(ctx, s.path, raw); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the checkpoint. Called only after a run completes without
// hitting its deadline.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.path); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
