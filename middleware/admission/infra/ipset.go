package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"defense-gateway/middleware/admission/domain"
)

// IPSetFilter implementa domain.PacketFilter executando o binário ipset.
// O conjunto é consumido por uma regra iptables instalada fora do processo
// (ex.: iptables -I INPUT -m set --match-set <set> src -j DROP).
//
// O flag -exist faz add/del tolerarem "já está no estado desejado", que é o
// contrato da porta. Binário ausente ou sem privilégio viram
// domain.ErrFilterUnavailable, nunca um erro fatal.
type IPSetFilter struct {
	set string
	run runner
}

// runner existe para os testes injetarem a execução do binário.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func NewIPSetFilter(set string) *IPSetFilter {
	if set == "" {
		set = "defense-gateway"
	}
	return &IPSetFilter{set: set, run: execRunner}
}

// EnsureSet cria o conjunto hash:ip se ainda não existe. Chamar uma vez na
// subida; falha é soft (o import e os blocks vão reportar indisponibilidade).
func (f *IPSetFilter) EnsureSet(ctx context.Context) error {
	_, err := f.ipset(ctx, "create", f.set, "hash:ip", "-exist")
	return err
}

func (f *IPSetFilter) Block(ctx context.Context, addr string) error {
	_, err := f.ipset(ctx, "add", f.set, addr, "-exist")
	return err
}

func (f *IPSetFilter) Unblock(ctx context.Context, addr string) error {
	_, err := f.ipset(ctx, "del", f.set, addr, "-exist")
	return err
}

// ListBlocked lê o conjunto no formato save e devolve os membros.
func (f *IPSetFilter) ListBlocked(ctx context.Context) ([]string, error) {
	out, err := f.ipset(ctx, "list", f.set, "-output", "save")
	if err != nil {
		return nil, err
	}

	var addrs []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		// formato save: "add <set> <ip>"
		if len(fields) >= 3 && fields[0] == "add" && fields[1] == f.set {
			addrs = append(addrs, fields[2])
		}
	}
	return addrs, nil
}

func (f *IPSetFilter) ipset(ctx context.Context, args ...string) ([]byte, error) {
	out, err := f.run(ctx, "ipset", args...)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", domain.ErrFilterUnavailable, err)
	}
	msg := strings.TrimSpace(string(out))
	if strings.Contains(msg, "Operation not permitted") || strings.Contains(msg, "Permission denied") {
		return nil, fmt.Errorf("%w: %s", domain.ErrFilterUnavailable, msg)
	}
	if msg != "" {
		return nil, fmt.Errorf("ipset %s: %v: %s", args[0], err, msg)
	}
	return nil, fmt.Errorf("ipset %s: %w", args[0], err)
}
