package driver

// All Cypher lives here. Relationship types and labels are never built from
// user text: free predicates are stored as a tech_type property under
// RELATED_TO, and the reserved types each get their own constant.

const (
	CreateEntityNodeQuery = `
		CREATE (n:Entity)
		SET n = $props
		RETURN elementId(n) AS id
	`

	CreateCharacterNodeQuery = `
		CREATE (n:Character)
		SET n = $props
		RETURN elementId(n) AS id
	`

	CreateLocationNodeQuery = `
		CREATE (n:Location)
		SET n = $props
		RETURN elementId(n) AS id
	`

	CreateTimeNodeQuery = `
		CREATE (n:Time)
		SET n = $props
		RETURN elementId(n) AS id
	`

	GetNodeQuery = `
		MATCH (n) WHERE elementId(n) = $id
		RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS properties
	`

	NodeExistsQuery = `
		MATCH (n) WHERE elementId(n) = $id
		RETURN elementId(n) AS id
	`

	// Resolver candidate pool: every node carrying the name, with its linked
	// times and locations collected for the funnel.
	GetNodesByNameQuery = `
		MATCH (n {name: $name})
		OPTIONAL MATCH (n)-[:HAPPENED_AT]->(t:Time)
		OPTIONAL MATCH (n)-[:HAPPENED_IN]->(l:Location)
		RETURN elementId(n) AS id,
		       n.node_type AS node_type,
		       n.context AS context,
		       n.last_updated AS last_updated,
		       collect(DISTINCT t.time) AS times,
		       collect(DISTINCT l.name) AS locations
	`

	CompanionLinkedQuery = `
		MATCH (n)--(m {name: $companion})
		WHERE elementId(n) IN $ids
		RETURN DISTINCT elementId(n) AS id
	`

	FindTimeNodeQuery = `
		MATCH (n:Time {name: $name, time: $time})
		RETURN elementId(n) AS id
	`

	SetNodePropertiesQuery = `
		MATCH (n) WHERE elementId(n) = $id
		SET n = $props
		RETURN elementId(n) AS id
	`

	SetNodeEmbeddingQuery = `
		MATCH (n) WHERE elementId(n) = $id
		SET n.embedding = $embedding
		RETURN elementId(n) AS id
	`

	SetSignificanceQuery = `
		MATCH (n) WHERE elementId(n) = $id
		SET n.significance = $significance,
		    n.importance = $importance,
		    n.last_updated = $now
		RETURN elementId(n) AS id
	`

	RemoveLocationScoresQuery = `
		MATCH (n:Location) WHERE elementId(n) = $id
		REMOVE n.importance, n.significance
		RETURN elementId(n) AS id
	`

	RelabelEntityQuery = `
		MATCH (n) WHERE elementId(n) = $id
		REMOVE n:Entity:Character:Location:Time
		SET n:Entity
		RETURN elementId(n) AS id
	`

	RelabelCharacterQuery = `
		MATCH (n) WHERE elementId(n) = $id
		REMOVE n:Entity:Character:Location:Time
		SET n:Character
		RETURN elementId(n) AS id
	`

	RelabelLocationQuery = `
		MATCH (n) WHERE elementId(n) = $id
		REMOVE n:Entity:Character:Location:Time
		SET n:Location
		RETURN elementId(n) AS id
	`

	RelabelTimeQuery = `
		MATCH (n) WHERE elementId(n) = $id
		REMOVE n:Entity:Character:Location:Time
		SET n:Time
		RETURN elementId(n) AS id
	`

	DeleteNodeQuery = `
		MATCH (n) WHERE elementId(n) = $id
		WITH n, elementId(n) AS id
		DETACH DELETE n
		RETURN id
	`

	CreateRelatedToQuery = `
		MATCH (a), (b)
		WHERE elementId(a) = $start_id AND elementId(b) = $end_id
		CREATE (a)-[r:RELATED_TO]->(b)
		SET r = $props
		RETURN elementId(r) AS id
	`

	CreateBelongsToQuery = `
		MATCH (a), (b)
		WHERE elementId(a) = $start_id AND elementId(b) = $end_id
		CREATE (a)-[r:BELONGS_TO]->(b)
		SET r = $props
		RETURN elementId(r) AS id
	`

	CreateHappenedAtQuery = `
		MATCH (a), (b)
		WHERE elementId(a) = $start_id AND elementId(b) = $end_id
		CREATE (a)-[r:HAPPENED_AT]->(b)
		SET r = $props
		RETURN elementId(r) AS id
	`

	CreateHappenedInQuery = `
		MATCH (a), (b)
		WHERE elementId(a) = $start_id AND elementId(b) = $end_id
		CREATE (a)-[r:HAPPENED_IN]->(b)
		SET r = $props
		RETURN elementId(r) AS id
	`

	CreateHasActionQuery = `
		MATCH (a), (b)
		WHERE elementId(a) = $start_id AND elementId(b) = $end_id
		CREATE (a)-[r:HAS_ACTION]->(b)
		SET r = $props
		RETURN elementId(r) AS id
	`

	FindRelByPredicateQuery = `
		MATCH (a)-[r]->(b)
		WHERE elementId(a) = $start_id AND elementId(b) = $end_id AND r.predicate = $predicate
		RETURN elementId(r) AS id, type(r) AS type, properties(r) AS properties
	`

	FindBelongsToQuery = `
		MATCH (a)-[r:BELONGS_TO]->(b)
		WHERE elementId(a) = $start_id AND elementId(b) = $end_id
		RETURN elementId(r) AS id
	`

	GetRelQuery = `
		MATCH (a)-[r]->(b) WHERE elementId(r) = $id
		RETURN elementId(r) AS id, type(r) AS type, properties(r) AS properties,
		       elementId(a) AS start_id, elementId(b) AS end_id
	`

	SetRelPropertiesQuery = `
		MATCH ()-[r]->() WHERE elementId(r) = $id
		SET r = $props
		RETURN elementId(r) AS id
	`

	DeleteRelQuery = `
		MATCH ()-[r]->() WHERE elementId(r) = $id
		WITH r, elementId(r) AS id
		DELETE r
		RETURN id
	`

	DeleteHappenedAtQuery = `
		MATCH (a)-[r:HAPPENED_AT]->()
		WHERE elementId(a) = $start_id
		DELETE r
	`

	DeleteHappenedInQuery = `
		MATCH (a)-[r:HAPPENED_IN]->()
		WHERE elementId(a) = $start_id
		DELETE r
	`

	SeedByNameQuery = `
		MATCH (n {name: $name})
		RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS properties
	`

	AllEmbeddingsQuery = `
		MATCH (n) WHERE n.embedding IS NOT NULL
		RETURN elementId(n) AS id, n.embedding AS embedding
	`

	NeighborhoodQuery = `
		MATCH (n)-[r]-(m)
		WHERE elementId(n) IN $ids
		RETURN DISTINCT elementId(m) AS id, labels(m) AS labels, properties(m) AS properties,
		       elementId(r) AS rel_id, type(r) AS rel_type, properties(r) AS rel_properties,
		       elementId(startNode(r)) AS start_id, elementId(endNode(r)) AS end_id
	`

	RelsAmongQuery = `
		MATCH (a)-[r]->(b)
		WHERE elementId(a) IN $ids AND elementId(b) IN $ids
		RETURN elementId(r) AS id, type(r) AS type, properties(r) AS properties,
		       elementId(a) AS start_id, elementId(b) AS end_id
	`

	CountEntityQuery    = `MATCH (n:Entity) RETURN count(n) AS count`
	CountCharacterQuery = `MATCH (n:Character) RETURN count(n) AS count`
	CountLocationQuery  = `MATCH (n:Location) RETURN count(n) AS count`
	CountTimeQuery      = `MATCH (n:Time) RETURN count(n) AS count`

	CountTripleRelsQuery    = `MATCH ()-[r {shape: 'triple'}]->() RETURN count(r) AS count`
	CountQuintupleRelsQuery = `MATCH ()-[r {shape: 'quintuple'}]->() RETURN count(r) AS count`

	ExportNodesQuery = `
		MATCH (n) WHERE elementId(n) IN $ids
		RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS properties
	`

	ExportRelsQuery = `
		MATCH (a)-[r]->(b) WHERE elementId(r) IN $ids
		RETURN elementId(r) AS id, type(r) AS type, properties(r) AS properties,
		       elementId(a) AS start_id, elementId(b) AS end_id
	`

	ClearAllQuery = `MATCH (n) DETACH DELETE n`
)
