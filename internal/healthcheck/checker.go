package healthcheck

import (
	"context"
	"log"
	"sync"
	"time"
)

// Pinger is implemented by backends that can be probed cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Target struct {
	Name   string
	Pinger Pinger
}

// Checker probes backends in the background. Its results are informational
// and never change which backends the router may select.
type Checker struct {
	mu          sync.RWMutex
	targets     []Target
	status      map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	stopChan    chan struct{}
	running     bool
}

type Config struct {
	Targets     []Target
	Interval    time.Duration // How often to probe (default: 1m)
	Timeout     time.Duration // Per-probe timeout (default: 5s)
	MaxFailures int           // Consecutive failures before unreachable (default: 3)
}

func NewChecker(cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	c := &Checker{
		targets:     cfg.Targets,
		status:      make(map[string]*Status, len(cfg.Targets)),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		stopChan:    make(chan struct{}),
	}

	// Assume reachable until proven otherwise
	for _, target := range cfg.Targets {
		c.status[target.Name] = &Status{
			Backend:   target.Name,
			Reachable: true,
		}
	}

	return c
}

// Start runs one round of probes in the background and then repeats on the
// configured interval until Stop.
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Printf("Starting health checks for %d backends (interval: %v)", len(c.targets), c.interval)

	go func() {
		c.checkAll()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		log.Printf("Health checker stopped")
	}
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			c.checkTarget(t)
		}(target)
	}

	wg.Wait()
}

func (c *Checker) checkTarget(target Target) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := target.Pinger.Ping(ctx); err != nil {
		c.recordFailure(target.Name, err)
		return
	}
	c.recordSuccess(target.Name)
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.status[name]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0
	status.LastError = ""

	if !status.Reachable {
		log.Printf("Backend %s is reachable again", name)
		status.Reachable = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.status[name]
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++
	status.LastError = err.Error()

	if status.Reachable && status.FailureCount >= c.maxFailures {
		log.Printf("Backend %s is unreachable (failures: %d): %v", name, status.FailureCount, err)
		status.Reachable = false
	}
}

// Returns a copy of one backend's status
func (c *Checker) GetStatus(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, ok := c.status[name]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// Returns copies of every status in target order
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.targets))
	for _, target := range c.targets {
		out = append(out, *c.status[target.Name])
	}
	return out
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reachable := 0
	for _, status := range c.status {
		if status.Reachable {
			reachable++
		}
	}

	switch {
	case len(c.status) == 0 || reachable == 0:
		return Unhealthy
	case reachable < len(c.status):
		return Degraded
	default:
		return Healthy
	}
}
