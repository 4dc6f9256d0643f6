package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
)

const (
	clientsFile    = "clients.json"
	therapistsFile = "therapists.json"
)

// FileRepository serves clients and therapists from JSON fixture files in a
// directory. Missing files are treated as empty.
type FileRepository struct {
	dir string
	log *logrus.Logger

	mu         sync.RWMutex
	clients    map[string]*domain.Client
	therapists map[string]*domain.Therapist
}

// NewFileRepository loads clients.json and therapists.json from dir.
func NewFileRepository(dir string, logger *logrus.Logger) (*FileRepository, error) {
	r := &FileRepository{dir: dir, log: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads both fixture files.
func (r *FileRepository) Reload() error {
	var clients []*domain.Client
	if err := readFixture(filepath.Join(r.dir, clientsFile), &clients); err != nil {
		return err
	}
	var therapists []*domain.Therapist
	if err := readFixture(filepath.Join(r.dir, therapistsFile), &therapists); err != nil {
		return err
	}

	clientIndex := make(map[string]*domain.Client, len(clients))
	for _, c := range clients {
		if c == nil || c.ID == "" {
			continue
		}
		clientIndex[c.ID] = c
	}
	therapistIndex := make(map[string]*domain.Therapist, len(therapists))
	for _, t := range therapists {
		if t == nil || t.ID == "" {
			continue
		}
		therapistIndex[t.ID] = t
	}

	r.mu.Lock()
	r.clients = clientIndex
	r.therapists = therapistIndex
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"dir":        r.dir,
		"clients":    len(clientIndex),
		"therapists": len(therapistIndex),
	}).Info("Loaded matching fixtures")
	return nil
}

// GetClient returns a client by ID.
func (r *FileRepository) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %s not found: %w", id, domain.ErrNotFound)
	}
	return client, nil
}

// GetTherapist returns a therapist by ID.
func (r *FileRepository) GetTherapist(ctx context.Context, id string) (*domain.Therapist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	therapist, ok := r.therapists[id]
	if !ok {
		return nil, fmt.Errorf("therapist %s not found: %w", id, domain.ErrNotFound)
	}
	return therapist, nil
}

// ListTherapists returns the therapists with the given IDs in ID order, or
// every therapist when ids is empty.
func (r *FileRepository) ListTherapists(ctx context.Context, ids []string) ([]*domain.Therapist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Therapist
	if len(ids) == 0 {
		for _, t := range r.therapists {
			out = append(out, t)
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if t, ok := r.therapists[id]; ok && !seen[id] {
				seen[id] = true
				out = append(out, t)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func readFixture(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
