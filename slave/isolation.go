package slave

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/clock"
	derror "github.com/AHINK/mesos/pkg/errors"
)

// executorKillGrace is how long a killed executor gets between SIGTERM
// and SIGKILL.
const executorKillGrace = 3 * time.Second

// IsolationModule forks executor processes and enforces their resource
// limits. The slave calls it synchronously from its own goroutine; long
// work must happen on threads the module owns.
type IsolationModule interface {
	// Initialize is called once before the slave serves messages.
	Initialize(slave actor.Address, conf *Config)
	// LaunchExecutor forks the executor in the given work directory and
	// returns the child pid (0 if there is no process to reap).
	LaunchExecutor(fw model.FrameworkID, fwInfo model.FrameworkInfo,
		execInfo model.ExecutorInfo, dir string, slaveID model.SlaveID) (int, error)
	// ResourcesChanged updates the executor's limits to the sum of its
	// tasks' resources.
	ResourcesChanged(fw model.FrameworkID, execID model.ExecutorID, resources model.Resources)
	// KillExecutor forcibly terminates the executor process.
	KillExecutor(fw model.FrameworkID, execID model.ExecutorID)
}

// ProcessIsolation runs executors as plain child processes with the
// executor environment of the wire protocol. It enforces no limits beyond
// kill; stronger isolation lives behind the same interface.
type ProcessIsolation struct {
	clk   clock.Clock
	slave actor.Address
	conf  *Config
	cmds  map[string]*exec.Cmd
}

// NewProcessIsolation builds a process-based isolation module.
func NewProcessIsolation(clk clock.Clock) *ProcessIsolation {
	return &ProcessIsolation{
		clk:  clk,
		cmds: make(map[string]*exec.Cmd),
	}
}

var _ IsolationModule = (*ProcessIsolation)(nil)

func (p *ProcessIsolation) Initialize(slave actor.Address, conf *Config) {
	p.slave = slave
	p.conf = conf
}

func (p *ProcessIsolation) LaunchExecutor(fw model.FrameworkID, fwInfo model.FrameworkInfo,
	execInfo model.ExecutorInfo, dir string, slaveID model.SlaveID,
) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Trace(err)
	}
	command := execInfo.Command
	if command == "" {
		uri := execInfo.URI
		if !filepath.IsAbs(uri) && p.conf.FrameworksHome != "" {
			uri = filepath.Join(p.conf.FrameworksHome, uri)
		}
		command = uri
	}
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"MESOS_FRAMEWORK_ID="+string(fw),
		"MESOS_EXECUTOR_ID="+string(execInfo.ID),
		"MESOS_EXECUTOR_URI="+execInfo.URI,
		"MESOS_SLAVE_PID="+p.slave.String(),
		"MESOS_SLAVE_ID="+string(slaveID),
		"MESOS_DIRECTORY="+dir,
		"MESOS_WORK_DIRECTORY="+dir,
		"MESOS_USER="+fwInfo.User,
		"MESOS_FRAMEWORKS_HOME="+p.conf.FrameworksHome,
		"MESOS_HADOOP_HOME="+p.conf.HadoopHome,
		fmt.Sprintf("MESOS_SWITCH_USER=%v", p.conf.SwitchUser),
		"MESOS_REDIRECT_IO=1",
	)
	if p.conf.PublicHostname != "" {
		cmd.Env = append(cmd.Env, "MESOS_PUBLIC_DNS="+p.conf.PublicHostname)
	}
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	if err != nil {
		return 0, errors.Trace(err)
	}
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	if err != nil {
		stdout.Close()
		return 0, errors.Trace(err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own process group so the kill reaches the executor's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return 0, derror.ErrExecutorLaunch.Wrap(err).GenWithStackByArgs(execInfo.ID, fw)
	}
	stdout.Close()
	stderr.Close()
	p.cmds[executorCmdKey(fw, execInfo.ID)] = cmd
	log.L().Info("launched executor process",
		zap.String("executor", string(execInfo.ID)),
		zap.String("framework", string(fw)),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("dir", dir))
	return cmd.Process.Pid, nil
}

func (p *ProcessIsolation) ResourcesChanged(fw model.FrameworkID, execID model.ExecutorID, resources model.Resources) {
	// Plain processes get no enforcement; log so operators can see what
	// would be applied.
	log.L().Debug("executor resources changed",
		zap.String("executor", string(execID)),
		zap.String("framework", string(fw)),
		zap.String("resources", resources.String()))
}

func (p *ProcessIsolation) KillExecutor(fw model.FrameworkID, execID model.ExecutorID) {
	key := executorCmdKey(fw, execID)
	cmd, ok := p.cmds[key]
	if !ok || cmd.Process == nil {
		return
	}
	delete(p.cmds, key)
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	p.clk.AfterFunc(executorKillGrace, func() {
		// SIGKILL whatever of the group survived the grace period.
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	})
}

func executorCmdKey(fw model.FrameworkID, execID model.ExecutorID) string {
	return string(fw) + "/" + string(execID)
}
