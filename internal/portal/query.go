package portal

import (
	"fmt"
	"net/url"
	"strconv"

	"personnelexport/internal/config"
)

// Query selects the single page of personnel requested from the data endpoint.
type Query struct {
	Limit    int
	Division int
	Draw     int
}

// EncodeQuery renders q as the query string expected by /personnel/data.
// The datatables style adds the column, order and search parameters a
// DataTables front-end would send.
func EncodeQuery(q Query, cfg config.PortalConfig) url.Values {
	draw := q.Draw
	if draw < 1 {
		draw = 1
	}

	v := url.Values{}
	v.Set("draw", strconv.Itoa(draw))
	v.Set("start", "0")
	v.Set("length", strconv.Itoa(q.Limit))
	v.Set("division", strconv.Itoa(q.Division))

	if cfg.QueryStyle != config.QueryStyleDataTables {
		return v
	}

	for i, col := range cfg.Columns {
		prefix := fmt.Sprintf("columns[%d]", i)
		v.Set(prefix+"[data]", col)
		v.Set(prefix+"[name]", col)
		v.Set(prefix+"[searchable]", "true")
		v.Set(prefix+"[orderable]", "true")
		v.Set(prefix+"[search][value]", "")
		v.Set(prefix+"[search][regex]", "false")
	}

	orderCol := cfg.OrderColumn
	if orderCol < 0 || orderCol >= len(cfg.Columns) {
		orderCol = 0
	}
	dir := cfg.OrderDir
	if dir != "desc" {
		dir = "asc"
	}
	v.Set("order[0][column]", strconv.Itoa(orderCol))
	v.Set("order[0][dir]", dir)
	v.Set("search[value]", "")
	v.Set("search[regex]", "false")
	return v
}
