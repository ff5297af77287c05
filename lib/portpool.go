package lib

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// PortPool hands out local port numbers from a ring holding a random
// permutation of [minPort, maxPort].
type PortPool struct {
	ports        []int
	capacity     int
	minPort      int
	maxPort      int
	readIdx      int
	count        int // ports currently in the ring
	allocatedMap map[int]time.Time
	mtx          sync.Mutex
}

func newPortPool(minPort, maxPort int) *PortPool {
	capacity := maxPort - minPort + 1

	// Generate a random permutation of indices
	perm := rand.Perm(capacity)

	ports := make([]int, capacity)
	for i, v := range perm {
		ports[i] = minPort + v
	}

	return &PortPool{
		ports:        ports,
		capacity:     capacity,
		minPort:      minPort,
		maxPort:      maxPort,
		count:        capacity,
		allocatedMap: make(map[int]time.Time),
	}
}

func (p *PortPool) allocatePort() (int, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.count == 0 {
		log.Println("Port allocation: port pool is empty. Cannot allocate")
		return 0, fmt.Errorf("port pool is empty")
	}

	port := p.ports[p.readIdx]
	p.readIdx = (p.readIdx + 1) % p.capacity
	p.count--

	p.allocatedMap[port] = time.Now()
	return port, nil
}

func (p *PortPool) returnPort(port int) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if port < p.minPort || port > p.maxPort {
		log.Println("Port Pool: returned a port out of range")
		return fmt.Errorf("port %d out of range", port)
	}
	if _, ok := p.allocatedMap[port]; !ok {
		return fmt.Errorf("port %d was not allocated", port)
	}

	writeIdx := (p.readIdx + p.count) % p.capacity
	p.ports[writeIdx] = port
	p.count++

	delete(p.allocatedMap, port)
	return nil
}

func (p *PortPool) available() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.count
}
