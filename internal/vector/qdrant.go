package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Qdrant is a Store backed by a Qdrant collection. Qdrant has no native
// MMR, so the candidate pool is fetched with vectors enabled and
// re-ranked client-side with the same greedy selection as Memory.
// Membership is mirrored in a local name set: the engine's idempotent
// sync needs Has without a round trip.
type Qdrant struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string

	mu    sync.RWMutex
	names map[string]string // entry name -> point id
}

// NewQdrant connects to a Qdrant instance.
func NewQdrant(ctx context.Context, host string, port int, collection string) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Qdrant{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: collection,
		names:      make(map[string]string),
	}, nil
}

func (q *Qdrant) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.names)
}

func (q *Qdrant) Has(name string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.names[name]
	return ok
}

func (q *Qdrant) Add(ctx context.Context, entries []Entry) error {
	q.mu.Lock()
	fresh := make([]Entry, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := q.names[e.Name]; ok {
			continue
		}
		id := uuid.NewString()
		q.names[e.Name] = id
		fresh = append(fresh, e)
		ids = append(ids, id)
	}
	q.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(fresh))
	for i, e := range fresh {
		payload := map[string]*pb.Value{
			"name": {Kind: &pb.Value_StringValue{StringValue: e.Name}},
		}
		for k, v := range e.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: ids[i]}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
			Payload: payload,
		}
	}

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		// Roll back the membership mirror so a later sync retries.
		q.mu.Lock()
		for _, e := range fresh {
			delete(q.names, e.Name)
		}
		q.mu.Unlock()
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (q *Qdrant) MMRSearch(ctx context.Context, query []float32, k, fetchK int, lambda float32) ([]Entry, []float32, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	if fetchK < k {
		fetchK = k
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(fetchK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant search: %w", err)
	}

	cands := make([]Entry, 0, len(resp.Result))
	rel := make([]float32, 0, len(resp.Result))
	for _, pt := range resp.Result {
		name := ""
		payload := make(map[string]string)
		for key, v := range pt.Payload {
			if key == "name" {
				name = v.GetStringValue()
			} else {
				payload[key] = v.GetStringValue()
			}
		}
		cands = append(cands, Entry{
			Name:    name,
			Vector:  pt.Vectors.GetVector().GetData(),
			Payload: payload,
		})
		rel = append(rel, pt.Score)
	}

	picked, scores := mmrSelect(cands, rel, k, lambda)
	return picked, scores, nil
}

// Clear drops the membership mirror. The remote collection is left to
// operator tooling; stale points are filtered by name on retrieval.
func (q *Qdrant) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = make(map[string]string)
}

// Close releases the grpc connection.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}

var _ Store = (*Qdrant)(nil)
