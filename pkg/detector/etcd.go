package detector

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/pkg/actor"
)

const etcdDialTimeout = 5 * time.Second

// Etcd detects the leading master through an etcd election at a fixed
// key prefix. Masters Appoint themselves by campaigning on the same
// election; observers receive the winner's address.
type Etcd struct {
	cli  *clientv3.Client
	path string
}

// NewEtcd connects to the given endpoints. path is the election prefix,
// e.g. "/mesos".
func NewEtcd(endpoints []string, path string) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Etcd{cli: cli, path: path}, nil
}

// Detect implements Detector by observing the election.
func (e *Etcd) Detect(ctx context.Context) (<-chan actor.Address, error) {
	session, err := concurrency.NewSession(e.cli)
	if err != nil {
		return nil, errors.Trace(err)
	}
	election := concurrency.NewElection(session, e.path)
	out := make(chan actor.Address, 1)
	go func() {
		defer close(out)
		defer session.Close()
		for resp := range election.Observe(ctx) {
			if len(resp.Kvs) == 0 {
				continue
			}
			addr, err := actor.ParseAddress(string(resp.Kvs[0].Value))
			if err != nil {
				log.L().Warn("ignoring malformed master address in election",
					zap.ByteString("value", resp.Kvs[0].Value))
				continue
			}
			log.L().Info("detected master", zap.String("master", addr.String()))
			select {
			case out <- addr:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Appoint implements Appointer: it blocks until this master wins the
// election, then publishes its address.
func (e *Etcd) Appoint(ctx context.Context, master actor.Address) error {
	session, err := concurrency.NewSession(e.cli)
	if err != nil {
		return errors.Trace(err)
	}
	election := concurrency.NewElection(session, e.path)
	if err := election.Campaign(ctx, master.String()); err != nil {
		session.Close()
		return errors.Trace(err)
	}
	log.L().Info("appointed as leading master", zap.String("master", master.String()))
	return nil
}

// Close implements Detector.
func (e *Etcd) Close() error {
	return errors.Trace(e.cli.Close())
}
