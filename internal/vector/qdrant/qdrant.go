// Package qdrant mirrors index slots into a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/efebarandurmaz/docintel/internal/vector"
)

// Mirror implements vector.Mirror. Point ids are the index slots.
type Mirror struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New connects to Qdrant at host:port and makes sure collection exists with
// cosine distance and the given vector size.
func New(ctx context.Context, host string, port int, collection string, dim int) (*Mirror, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	m := &Mirror{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
	if err := m.ensureCollection(ctx, dim); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) ensureCollection(ctx context.Context, dim int) error {
	resp, err := m.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: m.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}

	_, err = m.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dim), Distance: pb.Distance_Cosine},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", m.collection, err)
	}
	return nil
}

func (m *Mirror) Upsert(ctx context.Context, pts []vector.Point) error {
	if len(pts) == 0 {
		return nil
	}
	wait := true
	out := make([]*pb.PointStruct, len(pts))
	for i, p := range pts {
		out[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(p.Slot)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload(p),
		}
	}

	_, err := m.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: m.collection,
		Wait:           &wait,
		Points:         out,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func payload(p vector.Point) map[string]*pb.Value {
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	return map[string]*pb.Value{
		"document_id":  str(p.DocumentID),
		"titulo":       str(p.Metadata.Title),
		"año":          str(p.Metadata.Year),
		"objetivos":    str(p.Metadata.Objectives),
		"resumen":      str(p.Metadata.Abstract),
		"carrera":      str(p.Metadata.Career),
		"tipo_trabajo": str(p.Metadata.WorkType),
	}
}

func (m *Mirror) Close() error {
	return m.conn.Close()
}

var _ vector.Mirror = (*Mirror)(nil)
