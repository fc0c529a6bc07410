package remotecache

import (
	"context"

	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/digest"
)

// Server answers the C7 wire contract out of a local cas.Store, playing the
// role of the shared remote cache daemon a real deployment would run on a
// separate machine. It is deliberately thin: content addressability means
// the remote side needs nothing but a blob store keyed the same way C1 is.
type Server struct {
	store *cas.Store
}

func NewServer(store *cas.Store) *Server { return &Server{store: store} }

func (s *Server) Has(_ context.Context, req *HasRequest) (*HasReply, error) {
	d, err := digest.FromRawBytes(req.Digest)
	if err != nil {
		return nil, err
	}
	return &HasReply{Found: s.store.Has(d)}, nil
}

func (s *Server) Get(_ context.Context, req *GetRequest) (*GetReply, error) {
	d, err := digest.FromRawBytes(req.Digest)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Get(d)
	if err != nil {
		return &GetReply{Found: false}, nil
	}
	return &GetReply{Found: true, Data: data}, nil
}

func (s *Server) Put(_ context.Context, req *PutRequest) (*PutReply, error) {
	data := req.Data
	if req.Compressed {
		var err error
		data, err = decompress(data)
		if err != nil {
			return nil, err
		}
	}
	if _, err := s.store.Put(data); err != nil {
		return nil, err
	}
	return &PutReply{}, nil
}

func (s *Server) HasBatch(ctx context.Context, req *HasBatchRequest) (*HasBatchReply, error) {
	found := make([]bool, len(req.Digests))
	for i, raw := range req.Digests {
		d, err := digest.FromRawBytes(raw)
		if err != nil {
			continue
		}
		found[i] = s.store.Has(d)
	}
	return &HasBatchReply{Found: found}, nil
}

func (s *Server) GetBatch(ctx context.Context, req *GetBatchRequest) (*GetBatchReply, error) {
	entries := make([]GetReply, len(req.Digests))
	for i, raw := range req.Digests {
		d, err := digest.FromRawBytes(raw)
		if err != nil {
			continue
		}
		if data, err := s.store.Get(d); err == nil {
			entries[i] = GetReply{Found: true, Data: data}
		}
	}
	return &GetBatchReply{Entries: entries}, nil
}

func (s *Server) PutBatch(ctx context.Context, req *PutBatchRequest) (*PutBatchReply, error) {
	for _, data := range req.Data {
		if req.Compressed {
			var err error
			data, err = decompress(data)
			if err != nil {
				return nil, err
			}
		}
		if _, err := s.store.Put(data); err != nil {
			return nil, err
		}
	}
	return &PutBatchReply{}, nil
}
