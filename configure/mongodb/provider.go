package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocrud/mgo"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const clientSetKey = "mongodb.clientSet"

type disconnector interface {
	Disconnect(ctx context.Context) error
}

// clientSet 记录已连接的客户端，包括 mongo 与 mgo 两种
type clientSet struct {
	mu      sync.Mutex
	clients map[string]disconnector
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[string]disconnector)}
}

func (s *clientSet) add(name string, client disconnector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[name] = client
}

// Close 断开所有客户端
func (s *clientSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for name, client := range s.clients {
		if err := client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close client '%s': %w", name, err))
		}
	}
	s.clients = make(map[string]disconnector)
	if len(errs) > 0 {
		return fmt.Errorf("errors closing mongo clients: %v", errs)
	}
	return nil
}

// clientProvider 按绑定的配置（"<key>:$config"）创建客户端
type clientProvider struct {
	Options *MongoOptions `inject:"config="`
	Clients *clientSet    `inject:"mongodb.clientSet"`
}

func (p *clientProvider) Value() (any, error) {
	client, err := mongo.Connect(p.Options.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client '%s': %w", p.Options.Name, err)
	}
	p.Clients.add(p.Options.Name, client)
	return client, nil
}

// mgoProvider 创建 mgo 客户端，配置与同名 mongo 客户端共用
type mgoProvider struct {
	Options *MongoOptions `inject:"config="`
	Clients *clientSet    `inject:"mongodb.clientSet"`
}

func (p *mgoProvider) Value() (any, error) {
	timeout := p.Options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mgo.NewClient(ctx, p.Options.Uri, p.Options.driverOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create mgo client '%s': %w", p.Options.Name, err)
	}
	p.Clients.add("mgo:"+p.Options.Name, client)
	return client, nil
}
