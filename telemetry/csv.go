package telemetry

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
)

var csvHeader = []string{
	"ts", "cpu_percent", "memory_percent", "memory_used_mb", "memory_total_mb",
	"tcp_established", "bytes_sent", "bytes_recv",
}

// CSVSink grava snapshots em um arquivo CSV append-only (metrics.csv).
// bytes_sent/bytes_recv são os contadores cumulativos da interface, não taxas.
type CSVSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVSink abre (ou cria) o arquivo e escreve o cabeçalho se ele está vazio.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s := &CSVSink{file: f, w: csv.NewWriter(f)}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := s.w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVSink) Record(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		strconv.FormatInt(snap.Timestamp, 10),
		strconv.FormatFloat(snap.CPUPercent, 'f', 2, 64),
		strconv.FormatFloat(snap.MemoryPercent, 'f', 2, 64),
		strconv.FormatFloat(snap.MemoryUsedMB, 'f', 2, 64),
		strconv.FormatFloat(snap.MemoryTotalMB, 'f', 2, 64),
		strconv.Itoa(snap.TCPEstablished),
		strconv.FormatUint(snap.BytesSentTotal, 10),
		strconv.FormatUint(snap.BytesRecvTotal, 10),
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.file.Close()
}
