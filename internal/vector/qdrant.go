package vector

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// scrollPageSize bounds a single Scroll round trip.
const scrollPageSize = 256

// QdrantStore implements Store over the Qdrant gRPC API.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewQdrant connects to a Qdrant instance.
func NewQdrant(host string, port int) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &QdrantStore{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dimension int) (bool, error) {
	info, err := s.Describe(ctx, collection)
	if err == nil {
		if info.Dimension != dimension {
			return false, &CollectionMismatchError{
				Collection: collection,
				Existing:   info.Dimension,
				Requested:  dimension,
			}
		}
		return false, nil
	}
	if status.Code(err) != codes.NotFound {
		return false, err
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		// Concurrent ensure calls can race on creation.
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("creating collection %q: %w", collection, err)
	}
	return true, nil
}

func (s *QdrantStore) Describe(ctx context.Context, collection string) (*CollectionInfo, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		return nil, err
	}

	info := &CollectionInfo{Name: collection}
	if pc := resp.GetResult().GetPointsCount(); pc != 0 {
		info.Points = pc
	}
	if params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		info.Dimension = int(params.GetSize())
		info.Distance = params.GetDistance().String()
	}
	return info, nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil {
		return fmt.Errorf("deleting collection %q: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, len(points))
	for i := range points {
		p := &points[i]
		if err := p.Validate(); err != nil {
			return err
		}
		payload, err := encodePayload(p)
		if err != nil {
			return err
		}
		structs[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Filter:         matchFilter(filter),
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", collection, err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, pt := range resp.Result {
		content, hasContent, snippet, meta := decodePayload(pt.Payload)
		results[i] = SearchResult{
			ID:         pt.Id.GetUuid(),
			Score:      pt.Score,
			Content:    content,
			HasContent: hasContent,
			Snippet:    snippet,
			Metadata:   meta,
		}
	}
	return results, nil
}

func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter map[string]string, limit int) ([]Point, error) {
	var out []Point
	var offset *pb.PointId
	for {
		page := uint32(scrollPageSize)
		if limit > 0 && limit-len(out) < scrollPageSize {
			page = uint32(limit - len(out))
		}
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         matchFilter(filter),
			Limit:          &page,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling %q: %w", collection, err)
		}

		for _, pt := range resp.Result {
			content, hasContent, snippet, meta := decodePayload(pt.Payload)
			out = append(out, Point{
				ID:         pt.Id.GetUuid(),
				Content:    content,
				HasContent: hasContent,
				Snippet:    snippet,
				Metadata:   meta,
			})
		}

		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		offset = resp.NextPageOffset
		if offset == nil {
			return out, nil
		}
	}
}

func (s *QdrantStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	return nil
}

func (s *QdrantStore) DeleteByMetadata(ctx context.Context, collection string, filter map[string]string) error {
	f := matchFilter(filter)
	if f == nil {
		return fmt.Errorf("refusing to delete with an empty filter")
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: f},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting by metadata: %w", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

var _ Store = (*QdrantStore)(nil)
