package neo4jstore

import (
	"fmt"

	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// Labels and schema names are package constants, never user input, so
// they are formatted into statements. Every data value is a parameter.

const upsertPersonsCypher = `UNWIND $rows AS row
MERGE (n:PERSON {pid: row.pid})
SET n += row
RETURN count(n) AS applied`

const createContactsCypher = `UNWIND $rows AS row
MATCH (src:PERSON {pid: row.sourcePID})
MATCH (trg:PERSON {pid: row.targetPID})
MERGE (src)-[r:CONTACT {occur: row.occur, seq: row.seq}]->(trg)
ON CREATE SET r.duration = row.duration, r.src_act = row.src_act, r.trg_act = row.trg_act
RETURN count(r) AS matched`

const incomingContactsCypher = `MATCH (t:PERSON) WHERE t.pid IN $core
MATCH (s:PERSON)-[r:CONTACT]->(t) WHERE r.occur = $tick
RETURN s, t, r ORDER BY r.seq SKIP $skip LIMIT $limit`

const purgeBatchCypher = `MATCH (n) WITH n LIMIT $limit DETACH DELETE n RETURN count(*) AS deleted`

const countPersonsCypher = `MATCH (n:PERSON) RETURN count(n) AS n`

const countContactsCypher = `MATCH (:PERSON)-[r:CONTACT]->(:PERSON) WHERE $occur IS NULL OR r.occur = $occur RETURN count(r) AS n`

func pattern(onEdge bool, variable string) string {
	if onEdge {
		return fmt.Sprintf("()-[%s:%s]-()", variable, graphstore.ContactLabel)
	}
	return fmt.Sprintf("(%s:%s)", variable, graphstore.PersonLabel)
}

func createConstraintCypher(c graphstore.Constraint) string {
	v := "n"
	if c.OnEdge {
		v = "r"
	}
	requirement := "IS NOT NULL"
	if c.Kind == graphstore.Unique {
		requirement = "IS UNIQUE"
	}
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR %s REQUIRE %s.%s %s",
		c.Name, pattern(c.OnEdge, v), v, c.Property, requirement)
}

func createIndexCypher(idx graphstore.Index) string {
	v := "n"
	if idx.OnEdge {
		v = "r"
	}
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR %s ON (%s.%s)",
		idx.Name, pattern(idx.OnEdge, v), v, idx.Property)
}

func dropIndexCypher(name string) string {
	return fmt.Sprintf("DROP INDEX %s IF EXISTS", name)
}

func dropConstraintCypher(name string) string {
	return fmt.Sprintf("DROP CONSTRAINT %s IF EXISTS", name)
}

func personRows(persons []model.Person) []map[string]any {
	rows := make([]map[string]any, len(persons))
	for i, p := range persons {
		rows[i] = p.Properties()
	}
	return rows
}

func contactRows(edges []model.ContactEdge) []map[string]any {
	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{
			"sourcePID": e.SourcePID,
			"targetPID": e.TargetPID,
			"occur":     int64(e.Occur),
			"seq":       e.Seq,
			"duration":  int64(e.Duration),
			"src_act":   e.SourceActivity,
			"trg_act":   e.TargetActivity,
		}
	}
	return rows
}

func incomingParams(core []int64, tick, skip, limit int) map[string]any {
	return map[string]any{
		"core":  core,
		"tick":  int64(tick),
		"skip":  int64(skip),
		"limit": int64(limit),
	}
}
