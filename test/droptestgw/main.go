/*
Droptestgw is a lossy UDP forwarding gateway for exercising the RDT
retransmission path end to end. It sits between two peers:

	./droptestgw -ip 127.0.0.1 -port 8901 -target 127.0.0.1:9901 -droprate 0.1

The first endpoint that sends a datagram to the gateway becomes the client;
everything it sends is forwarded to the target and vice versa, except that
each datagram is dropped with the configured probability. Duplication can
be layered on top with -duprate; datagrams are never reordered.
*/
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

var (
	gatewayIP   string
	gatewayPort int
	targetAddr  string
	dropRate    float64
	dupRate     float64
	seed        int64
)

func init() {
	flag.StringVar(&gatewayIP, "ip", "127.0.0.1", "Gateway IP address")
	flag.IntVar(&gatewayPort, "port", 8901, "Gateway port number")
	flag.StringVar(&targetAddr, "target", "127.0.0.1:9901", "Target server address")
	flag.Float64Var(&dropRate, "droprate", 0.1, "Datagram drop rate (0.0-1.0)")
	flag.Float64Var(&dupRate, "duprate", 0.0, "Datagram duplication rate (0.0-1.0)")
	flag.Int64Var(&seed, "seed", 1, "RNG seed, fixed by default for reproducible runs")
	flag.Parse()
}

func main() {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(gatewayIP, strconv.Itoa(gatewayPort)))
	if err != nil {
		log.Fatalln("Error resolving gateway address:", err)
	}
	taddr, err := net.ResolveUDPAddr("udp", targetAddr)
	if err != nil {
		log.Fatalln("Error resolving target address:", err)
	}
	gw, err := net.ListenUDP("udp", laddr)
	if err != nil {
		log.Fatalln("Error listening:", err)
	}
	defer gw.Close()

	log.Printf("Gateway on %s forwarding to %s (droprate %.2f, duprate %.2f)\n",
		laddr, taddr, dropRate, dupRate)

	rng := rand.New(rand.NewSource(seed))
	var clientAddr *net.UDPAddr
	dropped, forwarded := 0, 0

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Forwarded %d datagrams, dropped %d\n", forwarded, dropped)
		gw.Close()
		os.Exit(0)
	}()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := gw.ReadFromUDP(buf)
		if err != nil {
			log.Println("Read error:", err)
			return
		}

		var dst *net.UDPAddr
		switch {
		case from.IP.Equal(taddr.IP) && from.Port == taddr.Port:
			if clientAddr == nil {
				continue // nothing to forward to yet
			}
			dst = clientAddr
		default:
			if clientAddr == nil {
				clientAddr = from
				log.Println("Adopted client", from)
			} else if !from.IP.Equal(clientAddr.IP) || from.Port != clientAddr.Port {
				continue // a third party; ignore it
			}
			dst = taddr
		}

		if rng.Float64() < dropRate {
			dropped++
			log.Printf("Dropped datagram %s -> %s (size %d)\n", from, dst, n)
			continue
		}
		sends := 1
		if rng.Float64() < dupRate {
			sends = 2
		}
		for i := 0; i < sends; i++ {
			if _, err := gw.WriteToUDP(buf[:n], dst); err != nil {
				log.Println("Write error:", err)
			}
		}
		forwarded += sends
	}
}
