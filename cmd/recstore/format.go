package main

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
)

func parseDate(i int64) string {
	return time.Unix(0, i).Format(time.StampMicro)
}

var FuncMap = template.FuncMap{
	"humanBytes": func(n uint64) string {
		return humanize.Bytes(n)
	},
	"humanCount": func(n uint64) string {
		return humanize.Comma(int64(n))
	},
	"parseDate": parseDate,
	"timeToDuration": func(i int64) string {
		return humanize.Time(time.Unix(0, i))
	},
}

func ParseTemplate(body string) (*template.Template, error) {
	return template.New("").Funcs(promptui.FuncMap).Funcs(FuncMap).Parse(fmt.Sprintf("%s\n", body))
}

func getTable(headers []string, out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}
