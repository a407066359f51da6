package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/vitaminmoo/smp-tool/internal/session"
)

// Echo sends text to the device and prints the reply.
func Echo(ctx context.Context, m *session.Manager, text string) error {
	reply, err := m.Echo(ctx, text)
	if err != nil {
		return fmt.Errorf("echo failed: %w", err)
	}
	fmt.Println(reply)
	return nil
}

// Reset reboots the device. The link normally drops right after.
func Reset(ctx context.Context, m *session.Manager) error {
	if err := m.Reset(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Println("Reset requested")
	return nil
}

// TaskStats prints the device task table.
func TaskStats(ctx context.Context, m *session.Manager) error {
	tasks, err := m.TaskStats(ctx)
	if err != nil {
		return fmt.Errorf("taskstat failed: %w", err)
	}

	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-20s %6s %6s %10s %8s\n", "TASK", "PRIO", "STATE", "STACK", "RUNTIME")
	for _, name := range names {
		t, ok := tasks[name].(map[string]any)
		if !ok {
			fmt.Printf("%-20s %v\n", name, tasks[name])
			continue
		}
		fmt.Printf("%-20s %6v %6v %4v/%-5v %8v\n", name, t["prio"], t["state"], t["stkuse"], t["stksiz"], t["runtime"])
	}
	return nil
}
