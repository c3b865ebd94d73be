// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// gather-candidates gathers the candidates of one component and prints
// them as SDP candidate lines.
package main

import (
	"fmt"
	"os"

	"github.com/pion/iceagent"
	"github.com/pion/iceagent/internal/config"
	"github.com/pion/iceagent/internal/zlog"
)

func main() {
	cfg, err := config.Load("gather-candidates", os.Args[1:], os.Stderr)
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
	agent.OnCandidate(func(_ int, c iceagent.Candidate) {
		fmt.Println(c.Marshal())
	})
	agent.OnGatheringDone(func(int) {
		close(gatherComplete)
	})

	if err = agent.GatherCandidates(streamID); err != nil {
		panic(err)
	}

	<-gatherComplete
}
