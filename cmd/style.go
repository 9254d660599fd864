package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/cardswap/allocator"
	"github.com/luca-patrignani/cardswap/directory"
	"github.com/luca-patrignani/cardswap/peer"
)

func printCohort(reg *allocator.Registry) {
	data := pterm.TableData{{"Turn", "Peer", "Address", "Hand"}}
	for _, p := range reg.Peers() {
		m, _ := reg.Lookup(p.Name)
		data = append(data, []string{strconv.Itoa(m.Turn), p.Name, p.Addr(), fmt.Sprint(m.Cards)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printDirectory(dir directory.Directory, self string) {
	data := pterm.TableData{{"Turn", "Peer", "Address"}}
	for i, p := range dir.All() {
		name := p.Name
		if name == self {
			name = pterm.LightCyan(name)
		}
		data = append(data, []string{strconv.Itoa(i + 1), name, p.Addr()})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// reportRows lays a final report out as label/value rows.
func reportRows(rep peer.Report) [][]string {
	status := pterm.LightRed("incomplete")
	if rep.Complete {
		status = pterm.LightGreen("complete")
	}
	return [][]string{
		{"Peer", rep.Name},
		{"Turn", strconv.Itoa(rep.Turn)},
		{"Rounds", strconv.Itoa(rep.Rounds)},
		{"Turns missed", strconv.Itoa(rep.Missed)},
		{"Collection", status},
		{"Cards", fmt.Sprint(rep.Cards)},
		{"Missing", fmt.Sprint(rep.Missing)},
		{"Duplicates", fmt.Sprint(rep.Duplicates)},
		{"Trades initiated", strconv.Itoa(rep.TradesInitiated)},
		{"Trades accepted", strconv.Itoa(rep.TradesAccepted)},
	}
}

func printReport(rep peer.Report) {
	table, err := pterm.DefaultTable.WithData(reportRows(rep)).Srender()
	if err != nil {
		pterm.Error.Println(err)
		return
	}
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	pbox.WithTitle(pterm.LightYellow("|FINAL STATE|")).WithTitleTopCenter().Println(table)
}
