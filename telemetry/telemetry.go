// Package telemetry coleta métricas do host (CPU, memória, rede, conexões
// TCP estabelecidas) em uma tarefa periódica independente do caminho de
// admissão, e as entrega para sinks (CSV, endpoint /status).
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
)

// Snapshot é a fotografia de um instante. Os campos JSON seguem o formato
// consumido pelo frontend de demonstração.
type Snapshot struct {
	Timestamp      int64   `json:"timestamp"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   float64 `json:"memory_used_mb"`
	MemoryTotalMB  float64 `json:"memory_total_mb"`
	TCPEstablished int     `json:"tcp_established"`
	BytesSentPerS  float64 `json:"bytes_sent_per_s"`
	BytesRecvPerS  float64 `json:"bytes_recv_per_s"`

	// acumulados brutos, usados pelo sink CSV (o arquivo grava contadores
	// cumulativos, não taxas)
	BytesSentTotal uint64 `json:"-"`
	BytesRecvTotal uint64 `json:"-"`
}

// Sink recebe cada snapshot coletado. Erros são best-effort: o coletor loga
// e continua.
type Sink interface {
	Record(Snapshot) error
}

// Sampler coleta snapshots e guarda o último para consulta.
// As taxas de bytes/s são derivadas da diferença para a coleta anterior.
type Sampler struct {
	mu       sync.Mutex
	prevSent uint64
	prevRecv uint64
	prevAt   time.Time
	latest   Snapshot
	hasPrev  bool
	hasLast  bool
}

func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample coleta um snapshot agora. A enumeração de conexões pode exigir
// privilégio em alguns sistemas; falha vira tcp_established = -1, nunca erro.
func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	now := time.Now()
	snap := Snapshot{Timestamp: now.Unix(), TCPEstablished: -1}

	// interval 0: percentual desde a última chamada, sem bloquear
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = round2(pcts[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.MemoryPercent = round2(vm.UsedPercent)
	snap.MemoryUsedMB = round2(float64(vm.Used) / 1024 / 1024)
	snap.MemoryTotalMB = round2(float64(vm.Total) / 1024 / 1024)

	if conns, err := gnet.ConnectionsWithContext(ctx, "inet"); err == nil {
		est := 0
		for _, c := range conns {
			if c.Status == "ESTABLISHED" {
				est++
			}
		}
		snap.TCPEstablished = est
	}

	counters, err := gnet.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		// sem contadores de rede o snapshot ainda vale; taxas ficam em zero
		s.store(snap)
		return snap, nil
	}
	snap.BytesSentTotal = counters[0].BytesSent
	snap.BytesRecvTotal = counters[0].BytesRecv

	s.mu.Lock()
	if s.hasPrev {
		delta := now.Sub(s.prevAt).Seconds()
		if delta < 1e-6 {
			delta = 1e-6
		}
		snap.BytesSentPerS = round1(float64(snap.BytesSentTotal-s.prevSent) / delta)
		snap.BytesRecvPerS = round1(float64(snap.BytesRecvTotal-s.prevRecv) / delta)
	}
	s.prevSent = snap.BytesSentTotal
	s.prevRecv = snap.BytesRecvTotal
	s.prevAt = now
	s.hasPrev = true
	s.latest = snap
	s.hasLast = true
	s.mu.Unlock()

	return snap, nil
}

func (s *Sampler) store(snap Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.hasLast = true
	s.mu.Unlock()
}

// Latest devolve o último snapshot coletado, se houver.
func (s *Sampler) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLast
}

// Run coleta a cada intervalo até o contexto encerrar, entregando a cada sink.
func (s *Sampler) Run(ctx context.Context, every time.Duration, sinks ...Sink) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap, err := s.Sample(ctx)
			if err != nil {
				log.Printf("telemetry: sample: %v", err)
				continue
			}
			for _, sink := range sinks {
				if err := sink.Record(snap); err != nil {
					log.Printf("telemetry: sink: %v", err)
				}
			}
		}
	}
}

func round2(v float64) float64 { return float64(int64(v*100+0.5)) / 100 }
func round1(v float64) float64 { return float64(int64(v*10+0.5)) / 10 }
