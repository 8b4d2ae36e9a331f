package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxturn/internal/config"
	"github.com/MrWong99/voxturn/internal/device"
)

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, sel device.Selected) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        voxturn · startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Microphone", sel.Device.Name)
	printRow(w, "Sample rate", fmt.Sprintf("%d Hz", sel.SampleRate))
	printRow(w, "Playback", fmt.Sprintf("%s @ %d Hz", cfg.Audio.Playback, cfg.Audio.PlaybackRate))
	printRow(w, "STT", providerList(cfg.Providers.STT))
	printRow(w, "LLM", providerList(cfg.Providers.LLM))
	printRow(w, "TTS", providerList(cfg.Providers.TTS))
	if cfg.Interrupt.IsEnabled() {
		printRow(w, "Interrupts", cfg.Interrupt.Strategy+" / "+cfg.Interrupt.Sensitivity)
	} else {
		printRow(w, "Interrupts", "(disabled)")
	}
	if cfg.Journal.PostgresDSN != "" {
		printRow(w, "Journal", "postgres")
	} else {
		printRow(w, "Journal", "memory")
	}
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerList(entries []config.ProviderEntry) string {
	if len(entries) == 0 {
		return "(not configured)"
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	value := names[0]
	if m := entries[0].Model; m != "" {
		value += " / " + m
	}
	if len(names) > 1 {
		value += " +" + fmt.Sprint(len(names)-1)
	}
	return value
}

func printRow(w io.Writer, label, value string) {
	const width = 18
	if r := []rune(value); len(r) > width {
		value = string(r[:width-1]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %s%s ║\n", label, value, strings.Repeat(" ", width-utf8.RuneCountInString(value)))
}
