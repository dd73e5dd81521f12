package replication

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zjrosen/levelsync/internal/barrier"
	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/netcode"
	"github.com/zjrosen/levelsync/internal/syncproto"
)

// KindSpawn is the frame kind announcing a spawned singleton.
const KindSpawn = "replication.spawn"

// SpawnMessage is the host's spawn announcement.
type SpawnMessage struct {
	NetworkID            uuid.UUID `cbor:"1,keyasint"`
	InstanceID           uuid.UUID `cbor:"2,keyasint"`
	Type                 string    `cbor:"3,keyasint"`
	Name                 string    `cbor:"4,keyasint"`
	DontDestroyWithOwner bool      `cbor:"5,keyasint"`
	SceneMigration       bool      `cbor:"6,keyasint"`
	DestroyWithScene     bool      `cbor:"7,keyasint"`
	// Session is the host barrier's session number at spawn time.
	Session uint64 `cbor:"8,keyasint"`
}

// NetworkSpawner spawns singletons by broadcasting them to every
// participant. Each participant instantiates the template locally and
// confirms the instance on its own barrier.
type NetworkSpawner struct {
	transport syncproto.Transport
	manager   *Manager
}

// NewNetworkSpawner registers the spawn handler on t and installs the
// spawner on m.
func NewNetworkSpawner(t syncproto.Transport, m *Manager) *NetworkSpawner {
	s := &NetworkSpawner{transport: t, manager: m}
	t.HandleFunc(KindSpawn, s.handleSpawn)
	m.SetSpawner(s)
	return s
}

// Spawn implements barrier.Spawner.
func (s *NetworkSpawner) Spawn(ctx context.Context, singleton *barrier.Singleton) error {
	req := singleton.Request
	msg := SpawnMessage{
		NetworkID:            content.DeriveNetworkID(content.Internal, req.Name),
		InstanceID:           uuid.New(),
		Type:                 req.Type,
		Name:                 req.Name,
		DontDestroyWithOwner: req.DontDestroyWithOwner,
		SceneMigration:       req.SceneMigration,
		DestroyWithScene:     req.DestroyWithScene,
		Session:              s.manager.Barrier().Session(),
	}
	if err := s.transport.ClientRPC(ctx, KindSpawn, msg); err != nil {
		return fmt.Errorf("spawn %s: %w", req.Name, err)
	}
	log.Debug(log.CatBarrier, "singleton spawned", "name", req.Name, "instance", msg.InstanceID)
	return nil
}

func (s *NetworkSpawner) handleSpawn(_ context.Context, f netcode.Frame) error {
	var msg SpawnMessage
	if err := f.Decode(&msg); err != nil {
		return err
	}

	t, ok := s.manager.ResolveNetworkID(msg.NetworkID)
	if !ok {
		log.Error(log.CatBarrier, "cannot instantiate spawned singleton, network identity unknown", "name", msg.Name, "network_id", msg.NetworkID)
		return nil
	}
	singleton, _ := s.manager.Singleton(t.Name)
	s.manager.Barrier().ConfirmSession(msg.Session, singleton, msg.InstanceID)
	return nil
}
