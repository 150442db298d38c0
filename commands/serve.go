package commands

import (
	"aenode/chain"
	"aenode/channels"
	"aenode/config"
	"aenode/datastore/leveldb"
	"aenode/discover"
	"aenode/helper/timer"
	"aenode/peernet/client"
	"aenode/peernet/server"
	"aenode/peers"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// advertizedURI picks the URI other peers reach us at: the configured one
// when set, otherwise the first non-loopback address of the listener.
func advertizedURI(cfg *config.Config, l net.Listener) (string, error) {
	if cfg.Node.AdvertizedURI != "" {
		return cfg.Node.AdvertizedURI, nil
	}

	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return "", errors.New("listener is not TCP")
	}
	if !tcpAddr.IP.IsUnspecified() && !tcpAddr.IP.IsLoopback() {
		return tcpAddr.String(), nil
	}

	// Bound to the wildcard address, enumerate the interfaces.
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		return (&net.TCPAddr{IP: ipnet.IP, Port: tcpAddr.Port}).String(), nil
	}

	return "", errors.New("no non-loopback addresses found")
}

func RunServe(ctx context.Context, cfg *config.Config) {
	// Persistent chain storage
	cidx, err := leveldb.NewChainIndex(cfg.DataStore.ChainPath)
	if err != nil {
		log.Fatalf("Failed to open chain index: %v", err)
	}
	defer cidx.Close()

	chainStore, err := chain.New(cidx)
	if err != nil {
		log.Fatalf("Failed to load chain: %v", err)
	}

	// Peer RPC listener
	rpcl, err := net.Listen("tcp", cfg.Network.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to create RPC listener: %v", err)
	}

	uri, err := advertizedURI(cfg, rpcl)
	if err != nil {
		log.Fatalf("Failed to determine advertized URI: %v", err)
	}
	log.Infof("Advertized URI: %s", uri)

	nonce := &peers.NonceProvider{}
	cli := client.New(nonce, uri)

	registry := peers.NewRegistry(nonce, chainStore, cli, peers.Config{
		MaxPeers:       cfg.Peers.MaxPeers,
		AdmitWhenFullP: cfg.Peers.AdmitWhenFullP,
	})

	table := channels.NewTable()

	srv := server.New(nonce, chainStore, registry, table)

	// Multicast discovery sockets
	psaddr, err := net.ResolveUDPAddr("udp", cfg.Network.AnnounceAddress)
	if err != nil {
		log.Fatalf("Failed to resolve announce address: %v", err)
	}
	rs, err := net.ListenMulticastUDP("udp4", nil, psaddr)
	if err != nil {
		log.Fatalf("Failed to create multicast listener: %v", err)
	}
	ws, err := net.DialUDP("udp4", nil, psaddr)
	if err != nil {
		log.Fatalf("Failed to create multicast writer: %v", err)
	}

	disc := discover.New(rs, ws, nonce, uri, registry.ScheduleAddPeer)

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return registry.Run(cctx)
	})

	wg.Go(func() error {
		return server.Serve(cctx, rpcl, srv)
	})

	wg.Go(func() error {
		return disc.Listen(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: time.Duration(cfg.Peers.AnnounceIntervalSeconds) * time.Second,
			Jitter:   500 * time.Millisecond,
		}
		return timer.RunWithTicker(cctx, interval, disc.Announce)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: time.Duration(cfg.Peers.CheckIntervalSeconds) * time.Second,
			Jitter:   time.Second,
		}
		return timer.RunWithTicker(cctx, interval, func(ctx context.Context) error {
			dropped, err := registry.CheckPeers(ctx)
			if err != nil {
				return err
			}
			if dropped > 0 {
				log.Infof("Health check dropped %d peers", dropped)
			}
			return nil
		})
	})

	// Metrics endpoint
	wg.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		msrv := &http.Server{Addr: cfg.Network.MetricsAddress, Handler: mux}
		go func() {
			<-cctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			msrv.Shutdown(sctx)
		}()
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Node stopped: %v", err)
	}
}
