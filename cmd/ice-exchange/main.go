// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// ice-exchange connects two agents through files: each side writes its
// description to local_sdp.txt and waits for the peer's in remote_sdp.txt.
// Run one side with --controlling, then copy each local file to the other
// side's remote file.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pion/iceagent"
	"github.com/pion/iceagent/internal/config"
	"github.com/pion/iceagent/internal/zlog"
)

func main() {
	cfg, err := config.Load("ice-exchange", os.Args[1:], os.Stderr)
	if err != nil {
		panic(err)
	}

	agentConfig, err := cfg.AgentConfig(zlog.NewLoggerFactory(os.Stderr, cfg.Log))
	if err != nil {
		panic(err)
	}

	agent, err := iceagent.NewAgent(agentConfig)
	if err != nil {
		panic(err)
	}
	defer func() {
		if cErr := agent.Close(); cErr != nil {
			fmt.Printf("cannot close agent: %v\n", cErr)
		}
	}()

	streamID, err := agent.AddStream(cfg.Exchange.Stream, cfg.Exchange.Components)
	if err != nil {
		panic(err)
	}

	gatherComplete := make(chan struct{})
	ready := make(chan struct{})
	failed := make(chan struct{})

	agent.OnGatheringDone(func(int) {
		close(gatherComplete)
	})
	agent.OnComponentStateChange(func(streamID int, componentID uint16, state iceagent.ComponentState) {
		fmt.Printf("Stream %d component %d: %s\n", streamID, componentID, state)
	})
	agent.OnSelectedPairChange(func(_ int, componentID uint16, pair *iceagent.CandidatePair) {
		fmt.Printf("Selected pair for component %d: %s <-> %s\n", componentID, pair.Local, pair.Remote)
	})
	agent.OnStreamStateChange(func(_ int, state iceagent.ComponentState) {
		switch state {
		case iceagent.ComponentStateReady:
			close(ready)
		case iceagent.ComponentStateFailed:
			close(failed)
		default:
		}
	})

	if err = agent.GatherCandidates(streamID); err != nil {
		panic(err)
	}
	<-gatherComplete

	localDescription, err := agent.LocalDescription()
	if err != nil {
		panic(err)
	}
	fmt.Println(localDescription)
	if err = os.WriteFile(cfg.Exchange.LocalSDP, []byte(localDescription), 0o600); err != nil {
		panic(err)
	}
	fmt.Printf("Local description written to %s, waiting for %s\n", cfg.Exchange.LocalSDP, cfg.Exchange.RemoteSDP)

	remoteDescription := waitForFile(cfg.Exchange.RemoteSDP, cfg.Exchange.Poll)
	if err = agent.SetRemoteDescription(remoteDescription); err != nil {
		var descErr *iceagent.DescriptionError
		if !errors.As(err, &descErr) {
			panic(err)
		}
		fmt.Printf("Skipped lines of the remote description: %v\n", descErr)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case <-ready:
	case <-failed:
		fmt.Println("Connectivity checks failed")

		return
	case <-interrupt:
		return
	}

	conn, err := agent.Conn(streamID, 1)
	if err != nil {
		panic(err)
	}
	conn.OnReceive(func(data []byte) {
		fmt.Printf("Received: %s\n", data)
	})

	role, err := agent.Role()
	if err != nil {
		panic(err)
	}
	if _, err = conn.Write([]byte(fmt.Sprintf("hello from the %s side", role))); err != nil {
		panic(err)
	}

	<-interrupt
}

// waitForFile polls until the file exists and is not empty.
func waitForFile(name string, poll time.Duration) string {
	for {
		data, err := os.ReadFile(name) //nolint:gosec
		if err == nil && len(data) > 0 {
			return string(data)
		}
		time.Sleep(poll)
	}
}
