// Package api holds the types shared by the catalog cache, the query
// executor, the HTTP transport and the server: catalog nodes, connection
// records, password challenges, result sets and the normalised response
// envelope.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// NodeType tags a catalog node with its level in the tree.
type NodeType string

const (
	NodeConn   NodeType = "conn"
	NodeDB     NodeType = "db"
	NodeTable  NodeType = "table"
	NodeColumn NodeType = "col"
)

// Node is one entry of the browsable catalog tree as exchanged on the wire.
// Subtype carries the engine kind for connections, "V" for views and a
// key marker such as "parkey" for columns.
type Node struct {
	Type    NodeType `json:"type"`
	Name    string   `json:"name"`
	Desc    string   `json:"desc"`
	Subtype Text     `json:"subtype,omitempty"`
	Fix     Flag     `json:"fix,omitempty"`
}

// ConnType is the database engine of a connection.
type ConnType int

const (
	ConnMySQL ConnType = iota + 1
	ConnPostgres
	ConnOracle
	ConnHiveLDAP
	ConnHiveKerberos
	ConnSQLite
)

func (t ConnType) String() string {
	switch t {
	case ConnMySQL:
		return "mysql"
	case ConnPostgres:
		return "postgres"
	case ConnOracle:
		return "oracle"
	case ConnHiveLDAP:
		return "hive-ldap"
	case ConnHiveKerberos:
		return "hive-kerberos"
	case ConnSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// ParseConnType accepts either the numeric code or the engine name.
func ParseConnType(s string) (ConnType, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return ConnType(n), nil
	}
	for t := ConnMySQL; t <= ConnSQLite; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown database type %q", s)
}

// UnmarshalJSON accepts 2 and "2".
func (t *ConnType) UnmarshalJSON(b []byte) error {
	var s Text
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*t = 0
		return nil
	}
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return fmt.Errorf("db_type: %w", err)
	}
	*t = ConnType(n)
	return nil
}

// Conn is a connection record as submitted by clients and kept in the
// registry. ErrMsg is filled in by the catalog cache when creation fails.
type Conn struct {
	DBID   string   `json:"db_id" yaml:"db_id"`
	DBType ConnType `json:"db_type" yaml:"db_type"`
	DBName string   `json:"db_name,omitempty" yaml:"db_name,omitempty"`
	DBHost string   `json:"db_host,omitempty" yaml:"db_host,omitempty"`
	DBPort Text     `json:"db_port,omitempty" yaml:"db_port,omitempty"`
	DBUser string   `json:"db_user,omitempty" yaml:"db_user,omitempty"`
	DBPass string   `json:"db_pass,omitempty" yaml:"db_pass,omitempty"`
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	ErrMsg string   `json:"errmsg,omitempty" yaml:"-"`
}

// PassInfo is a password challenge, or the answer to one when Pass is set.
type PassInfo struct {
	DBID string `json:"db_id"`
	User string `json:"db_user"`
	Pass string `json:"db_pass,omitempty"`
}

// TableData is a query result set.
type TableData struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// CommentType selects what a comment is attached to.
type CommentType int

const (
	CommentConn CommentType = iota + 1
	CommentSchema
	CommentTable
	CommentColumn
)

// UnmarshalJSON accepts 3 and "3".
func (c *CommentType) UnmarshalJSON(b []byte) error {
	var t ConnType
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	*c = CommentType(t)
	return nil
}

// Comment is a user annotation on a catalog node.
type Comment struct {
	Type    CommentType `json:"type"`
	DBID    string      `json:"dbid"`
	Schema  string      `json:"schema,omitempty"`
	Table   string      `json:"table,omitempty"`
	Column  string      `json:"column,omitempty"`
	Comment string      `json:"comment"`
}

// Text is a string that also decodes from JSON numbers.
type Text string

func (s *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Text(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = Text(n.String())
	return nil
}

// Flag is a bool that also decodes from 0/1.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(bytes.TrimSpace(b), `"`)) {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", b)
	}
	return nil
}
