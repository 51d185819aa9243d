package detector

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/AHINK/mesos/pkg/actor"
	derror "github.com/AHINK/mesos/pkg/errors"
)

// MasterActorName is the well-known name of the master actor on its
// endpoint.
const MasterActorName = "master"

// Detector reports the current master's address to slaves and framework
// drivers. A new address on the channel supersedes the previous one; a
// zero address means no master is currently known.
type Detector interface {
	Detect(ctx context.Context) (<-chan actor.Address, error)
	Close() error
}

// Appointer is implemented by coordinated detectors: masters campaign for
// leadership and publish their address.
type Appointer interface {
	Appoint(ctx context.Context, master actor.Address) error
}

// New builds a detector from a master URL:
//
//	host:port          direct connection
//	etcd://h1:p1,h2:p2/path   leader discovery via etcd
//	etcdfile://path    like etcd://, hosts and path read from a file
//
// The "local" / "local/N" forms are assembled by the local package, which
// wires a Static detector directly; they are rejected here.
func New(url string) (Detector, error) {
	switch {
	case strings.HasPrefix(url, "etcd://"):
		hosts, path, ok := strings.Cut(strings.TrimPrefix(url, "etcd://"), "/")
		if !ok || hosts == "" {
			return nil, derror.ErrBadMasterURL.GenWithStackByArgs(url)
		}
		return NewEtcd(strings.Split(hosts, ","), "/"+path)
	case strings.HasPrefix(url, "etcdfile://"):
		data, err := os.ReadFile(strings.TrimPrefix(url, "etcdfile://"))
		if err != nil {
			return nil, derror.ErrBadMasterURL.Wrap(err).GenWithStackByArgs(url)
		}
		return New("etcd://" + strings.TrimSpace(string(data)))
	case url == "local" || strings.HasPrefix(url, "local/"):
		return nil, derror.ErrBadMasterURL.GenWithStackByArgs(url)
	default:
		host, portStr, ok := strings.Cut(url, ":")
		if !ok || host == "" {
			return nil, derror.ErrBadMasterURL.GenWithStackByArgs(url)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			return nil, derror.ErrBadMasterURL.GenWithStackByArgs(url)
		}
		return NewStatic(actor.Address{Host: host, Port: port, Name: MasterActorName}), nil
	}
}

// Static always reports one fixed master address.
type Static struct {
	master actor.Address
}

// NewStatic builds a detector pinned to the given address.
func NewStatic(master actor.Address) *Static {
	return &Static{master: master}
}

// Detect implements Detector.
func (s *Static) Detect(ctx context.Context) (<-chan actor.Address, error) {
	ch := make(chan actor.Address, 1)
	ch <- s.master
	return ch, nil
}

// Close implements Detector.
func (s *Static) Close() error {
	return nil
}
