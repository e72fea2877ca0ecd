package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"tbkb-submission-go/internal/lock"
	"tbkb-submission-go/internal/matching"
	"tbkb-submission-go/internal/testutil"
	"tbkb-submission-go/pkg/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PackageEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.PackageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memoryStore struct {
	objects map[string]int64
}

func (s *memoryStore) Stat(_ context.Context, objectName string) (int64, bool, error) {
	size, ok := s.objects[objectName]
	return size, ok, nil
}

func (s *memoryStore) PresignedGetURL(_ context.Context, objectName, downloadName string, _ time.Duration) (string, error) {
	return "https://storage.example.org/tbkb/" + objectName + "?name=" + downloadName, nil
}

type fixture struct {
	db        *gorm.DB
	locker    *lock.PackageLocker
	publisher *recordingPublisher
	store     *memoryStore
	packages  PackageService
	intake    IntakeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		db:        db,
		locker:    lock.NewPackageLocker(db, nil, time.Minute),
		publisher: &recordingPublisher{},
		store:     &memoryStore{objects: map[string]int64{}},
	}
	engine := matching.NewEngine(matching.NewSampleRegistry(1773))
	f.packages = NewPackageService(db, f.locker, engine, f.publisher)
	f.intake = NewIntakeService(db, f.store, f.publisher, 15*time.Minute)
	return f
}
