package commands

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vitaminmoo/smp-tool/internal/session"
	"github.com/vitaminmoo/smp-tool/internal/slots"
	"github.com/vitaminmoo/smp-tool/internal/util"
)

// PrintJSON pretty-prints JSON data. If indentation fails, prints raw.
func PrintJSON(data []byte) {
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, data, "", "  "); err != nil {
		fmt.Printf("Body: %s\n", string(data))
	} else {
		fmt.Println(prettyJSON.String())
	}
}

// PrintValue marshals v and pretty-prints it.
func PrintValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	PrintJSON(data)
	return nil
}

// ConfirmAction prompts the user to type 'yes' to continue.
// Returns true if confirmed, false otherwise.
func ConfirmAction(prompt string) bool {
	fmt.Print(prompt)

	reader := bufio.NewReader(os.Stdin)
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(confirm)

	return confirm == "yes"
}

// RemedyText is the user-facing wording of a remedy.
func RemedyText(r session.Remedy) string {
	switch r {
	case session.EraseSlot:
		return "Erase the secondary slot"
	case session.TestPending:
		return "If an image is pending, test it on reboot or reset the device"
	case session.ConfirmActive:
		return "If an image is being tested, confirm it to make it permanent"
	case session.CheckSlots:
		return "Check the current slot states"
	case session.CheckRange:
		return "Check that the device is still connected and in range"
	case session.Reconnect:
		return "Try disconnecting and reconnecting to the device"
	case session.PowerCycle:
		return "Power cycle the device and try again"
	case session.SmallerImage:
		return "The device firmware may be slow, try a smaller image file"
	default:
		return r.String()
	}
}

// SlotFlags renders the state flags of a slot, e.g. "active confirmed".
func SlotFlags(s slots.ImageSlot) string {
	var flags []string
	if s.Active {
		flags = append(flags, "active")
	}
	if s.Confirmed {
		flags = append(flags, "confirmed")
	}
	if s.Pending {
		flags = append(flags, "pending")
	}
	if s.Permanent {
		flags = append(flags, "permanent")
	}
	if s.NotBootable() {
		flags = append(flags, "not-bootable")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, " ")
}

// PrintSlots prints a slot table followed by the permitted actions.
func PrintSlots(list []slots.ImageSlot, a slots.Affordances) {
	if len(list) == 0 {
		fmt.Println("No images reported")
		return
	}
	fmt.Printf("%-6s %-5s %-12s %-19s %s\n", "IMAGE", "SLOT", "VERSION", "HASH", "FLAGS")
	for _, s := range list {
		fmt.Printf("%-6d %-5d %-12s %-19s %s\n", s.Image, s.Slot, s.Version, shortHex(s.Hash), SlotFlags(s))
	}
	if a.Rejected > 0 {
		fmt.Printf("(%d slot(s) without a hash were ignored)\n", a.Rejected)
	}
	if a.MultiplePending {
		fmt.Println("Warning: more than one slot is pending")
	}

	var actions []string
	if a.CanTest {
		actions = append(actions, "test "+shortHex(a.TestHash))
	}
	if a.CanConfirm {
		actions = append(actions, "confirm "+shortHex(a.ConfirmHash))
	}
	if a.CanReset {
		actions = append(actions, "reset")
	}
	if len(actions) > 0 {
		fmt.Printf("\nAvailable: %s\n", strings.Join(actions, ", "))
	}
}

// PrintRemedies prints the follow-up suggestions for a failed upload.
func PrintRemedies(remedies []session.Remedy) {
	if len(remedies) == 0 {
		return
	}
	fmt.Println("\nWhat you can try:")
	for _, r := range remedies {
		fmt.Printf("  - %s\n", RemedyText(r))
	}
}

// resolveSlotHash expands a hex hash or unique hash prefix against the
// reported slots. An empty arg selects fallback.
func resolveSlotHash(list []slots.ImageSlot, arg string, fallback []byte) ([]byte, error) {
	if arg == "" {
		if len(fallback) == 0 {
			return nil, fmt.Errorf("no eligible slot; pass a hash")
		}
		return fallback, nil
	}
	want := strings.ToLower(strings.TrimPrefix(arg, "sha256:"))
	if _, err := hex.DecodeString(want + strings.Repeat("0", len(want)%2)); err != nil {
		return nil, fmt.Errorf("invalid hash %q", arg)
	}

	var match []byte
	for _, s := range list {
		if !strings.HasPrefix(s.HashString(), want) {
			continue
		}
		if match != nil && !bytes.Equal(match, s.Hash) {
			return nil, fmt.Errorf("hash prefix %q matches more than one slot", arg)
		}
		match = s.Hash
	}
	if match == nil {
		return nil, fmt.Errorf("no slot with hash %q", arg)
	}
	return match, nil
}

func shortHex(b []byte) string {
	return util.ShortHex(b, 16)
}
