package gateway

import (
	"log"
	"sync"

	"github.com/codecollab-dev/syncengine/internal/chat"
	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/ephemeral"
	"github.com/codecollab-dev/syncengine/internal/stats"
)

// Gateway owns every live websocket client and the shared stores they
// collaborate through. One Gateway per process; clients register on
// upgrade and deregister when their read pump exits.
type Gateway struct {
	log       *log.Logger
	durable   durable.Store
	ephemeral ephemeral.Store
	chat      *chat.Service
	provider  stats.StatsProvider

	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	stop           chan struct{}
	done           chan struct{}
}

func NewGateway(logger *log.Logger, durableStore durable.Store, ephemeralStore ephemeral.Store, chatSvc *chat.Service, provider stats.StatsProvider) *Gateway {
	return &Gateway{
		log:            logger,
		durable:        durableStore,
		ephemeral:      ephemeralStore,
		chat:           chatSvc,
		provider:       provider,
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (gw *Gateway) Run() {
	for {
		select {
		case client := <-gw.RegisterChan:
			gw.log.Printf("adding connection from %q", client.identity.UserId)
			gw.addClient(client)
			gw.provider.Incr(stats.ConnectedClients)
		case client := <-gw.deRegisterChan:
			gw.log.Printf("removing connection from %q", client.identity.UserId)
			gw.removeClient(client)
			gw.provider.Decr(stats.ConnectedClients)
		case <-gw.stop:
			gw.clientsLock.Lock()
			for c := range gw.clients {
				c.stopClient()
			}
			gw.clientsLock.Unlock()

			close(gw.done)
			return
		}
	}
}

func (gw *Gateway) addClient(c *Client) {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()
	gw.clients[c] = struct{}{}
}

func (gw *Gateway) removeClient(c *Client) {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()
	delete(gw.clients, c)
}

func (gw *Gateway) Shutdown() {
	gw.log.Println("received shutdown signal")
	close(gw.stop)
	<-gw.done
}
